package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// PlainFormatter formats the report as an aligned table without colors,
// followed by a one-line summary.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintln(tw, "STATE\tTARGET\tDURATION\tDETAIL"); err != nil {
		return err
	}
	for _, row := range r.Rows {
		detail := row.Artifact
		if row.State != types.StateSucceeded.String() {
			detail = row.Diagnostic
		}
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row.State, row.Target, types.FormatDuration(row.Duration), detail); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	s := r.Stats
	fmt.Fprintf(w, "\n%d targets: %d succeeded, %d failed, %d timed out, %d cancelled, %d skipped in %s\n",
		s.Total, s.Succeeded, s.Failed, s.TimedOut, s.Cancelled, s.Skipped, types.FormatDuration(r.Duration))
	return nil
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)
