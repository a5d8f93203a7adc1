package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/easscan/pkg/easscan/manifest"
	"github.com/jamesainslie/easscan/pkg/easscan/store"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View run history",
	Long: `View the history of scan runs.

Every run writes a manifest entry with its pool settings and the outcome
of each target.`,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show details of a run",
	Long:  `Display one run by its ID. A unique ID prefix is enough.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove old history entries",
	Long: `Remove history entries older than manifest.retention_days, together
with their per-run records in the result store.

--older-than overrides the retention with an age such as 7d, 2w or 3mo.`,
	RunE: runHistoryClean,
}

// maxShownRecords bounds the targets listed by history show.
const maxShownRecords = 50

var (
	historyLimit     int
	historyOlderThan string
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")

	historyCleanCmd.Flags().StringVar(&historyOlderThan, "older-than", "", "remove entries older than this age (e.g. 7d, 2w)")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

func getManifest() (*manifest.Manifest, error) {
	m, err := manifest.New(appConfig.Manifest.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize manifest: %w", err)
	}
	return m, nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	m, err := getManifest()
	if err != nil {
		return err
	}
	entries, err := m.List(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}
	if len(entries) == 0 {
		printInfo("No history entries found.")
		printInfo("Run 'easscan <target-file>' to start a scan.")
		return nil
	}
	printHistory(cmd.OutOrStdout(), entries)
	return nil
}

func printHistory(w io.Writer, entries []manifest.Entry) {
	fmt.Fprintf(w, "\n%-24s  %-14s  %-10s  %6s  %6s  %6s  %s\n",
		"ID", "WHEN", "TOOL", "TOTAL", "OK", "FAIL", "WORKERS")
	fmt.Fprintln(w, strings.Repeat("-", 86))
	for _, e := range entries {
		s := e.Summary
		fmt.Fprintf(w, "%-24s  %-14s  %-10s  %6d  %6d  %6d  %d/%d\n",
			truncateString(e.ID, 24),
			humanize.Time(e.Timestamp),
			truncateString(e.Tool, 10),
			s.Total, s.Succeeded, s.Failed+s.TimedOut+s.Cancelled,
			e.Pool.MaxWorkers, e.Pool.HardCap)
	}
	fmt.Fprintln(w, strings.Repeat("-", 86))
	fmt.Fprintf(w, "\nShowing %d entries. Use --limit to see more.\n", len(entries))
	fmt.Fprintln(w, "Use 'easscan history show <id>' for details on a specific run.")
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	m, err := getManifest()
	if err != nil {
		return err
	}
	entry, err := m.Get(args[0])
	if err != nil {
		return fmt.Errorf("failed to get entry: %w", err)
	}
	printEntry(cmd.OutOrStdout(), entry)
	return nil
}

func printEntry(w io.Writer, e *manifest.Entry) {
	s := e.Summary
	fmt.Fprintln(w, "\nRun Details")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "ID:          %s\n", e.ID)
	fmt.Fprintf(w, "Timestamp:   %s\n", e.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Tool:        %s\n", e.Tool)
	fmt.Fprintf(w, "Workers:     %d (suggested %d, hard cap %d)\n", e.Pool.MaxWorkers, e.Pool.Suggested, e.Pool.HardCap)
	fmt.Fprintf(w, "Timeout:     %s\n", e.Pool.Timeout)
	fmt.Fprintf(w, "Thresholds:  %s, recovery %s\n", e.Pool.Thresholds, e.Pool.Recovery)
	fmt.Fprintf(w, "Elapsed:     %s (peak %d running, %d throttles)\n", s.Elapsed.Round(1e6), s.PeakRunning, s.Throttles)
	fmt.Fprintf(w, "Outcome:     %d succeeded, %d failed, %d timed out, %d cancelled, %d skipped\n",
		s.Succeeded, s.Failed, s.TimedOut, s.Cancelled, s.Skipped)
	if s.Interrupted {
		fmt.Fprintln(w, "Interrupted: yes")
	}

	if len(e.Records) == 0 {
		return
	}
	fmt.Fprintln(w, "\nTargets:")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	fmt.Fprintf(w, "%-10s  %-10s  %s\n", "STATE", "DURATION", "TARGET")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	limit := len(e.Records)
	if limit > maxShownRecords {
		limit = maxShownRecords
	}
	for _, r := range e.Records[:limit] {
		fmt.Fprintf(w, "%-10s  %-10s  %s\n", r.State, r.Duration.Round(1e6), r.Target)
	}
	if len(e.Records) > limit {
		fmt.Fprintf(w, "\n... and %d more targets\n", len(e.Records)-limit)
	}
}

func runHistoryClean(_ *cobra.Command, _ []string) error {
	m, err := getManifest()
	if err != nil {
		return err
	}
	retention, err := cleanRetention(historyOlderThan, appConfig.ManifestRetention())
	if err != nil {
		return err
	}
	printInfo("Cleaning history entries older than %s...", strings.TrimSpace(humanize.RelTime(time.Now().Add(-retention), time.Now(), "", "")))

	removed, err := m.Cleanup(retention)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}

	if appConfig.Store.Enabled && len(removed) > 0 {
		st, err := store.Open(appConfig.Store.Path)
		if err != nil {
			return fmt.Errorf("opening result store: %w", err)
		}
		defer st.Close()
		for _, id := range removed {
			if err := st.DeleteRun(id); err != nil {
				return fmt.Errorf("removing stored run %s: %w", id, err)
			}
		}
	}

	printInfo("Removed %d %s.", len(removed), pluralize(len(removed), "entry", "entries"))
	return nil
}

// cleanRetention returns the age given by --older-than, or def when unset.
func cleanRetention(olderThan string, def time.Duration) (time.Duration, error) {
	if olderThan == "" {
		return def, nil
	}
	d, err := types.ParseAge(olderThan)
	if err != nil {
		return 0, &types.ConfigurationError{Field: "older-than", Reason: err.Error()}
	}
	return d, nil
}

// truncateString truncates s to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
