package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/easscan/pkg/easscan/store"
	"github.com/jamesainslie/easscan/pkg/easscan/targets"
)

var resultsCmd = &cobra.Command{
	Use:   "results [target...]",
	Short: "Show the latest stored result per target",
	Long: `Show the most recent result of each target from the result store.
Without arguments every stored target is listed.`,
	RunE: runResults,
}

var resultsJSON bool

func init() {
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "print records as JSON")
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	if !appConfig.Store.Enabled {
		return errors.New("the result store is disabled (store.enabled)")
	}
	st, err := store.Open(appConfig.Store.Path)
	if err != nil {
		return fmt.Errorf("opening result store: %w", err)
	}
	defer st.Close()

	recs, err := latestRecords(st, args)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		printInfo("No stored results.")
		return nil
	}
	if resultsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	return printResults(cmd.OutOrStdout(), recs)
}

// latestRecords looks up the named targets, or every target when none
// are named. Unknown targets are reported and skipped.
func latestRecords(st *store.Store, names []string) ([]store.Record, error) {
	if len(names) == 0 {
		return st.LatestAll()
	}
	var recs []store.Record
	for _, name := range names {
		t, err := targets.Normalize(name, appConfig.Targets.StripWWW)
		if err != nil {
			printInfo("Skipping %q: %v", name, err)
			continue
		}
		rec, err := st.Latest(t)
		if errors.Is(err, store.ErrNotFound) {
			printInfo("No result for %s.", t)
			continue
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, nil
}

func printResults(w io.Writer, recs []store.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tSTATE\tDURATION\tWHEN\tRUN\tARTIFACT")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Target, r.State, r.Duration.Round(1e6), humanize.Time(r.FinishedAt), r.RunID, r.OutputPath)
	}
	return tw.Flush()
}
