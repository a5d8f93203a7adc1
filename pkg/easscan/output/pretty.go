package output

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// PrettyFormatter formats the report with colors and boxes for terminal
// display.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Report) error {
	w.WriteString(f.formatHeader(r))
	w.WriteString("\n")
	w.WriteString(f.formatTable(r))
	w.WriteString(f.formatFooter(r))
	if len(r.Warnings) > 0 {
		w.WriteString("\n")
		w.WriteString(f.formatWarnings(r.Warnings))
	}
	return nil
}

func (f *PrettyFormatter) formatHeader(r *Report) string {
	var lines []string

	lines = append(lines, fmt.Sprintf("%s %s  %s %s",
		LabelStyle.Render("Run:"), ValueStyle.Render(r.RunID),
		LabelStyle.Render("Tool:"), ValueStyle.Render(r.Tool)))

	workers := fmt.Sprintf("%d of %d", r.Confirmed, r.HardCap)
	if r.Suggested > 0 {
		workers += fmt.Sprintf(" (suggested %d)", r.Suggested)
	}
	info := []string{
		fmt.Sprintf("%s %s", LabelStyle.Render("Workers:"), ValueStyle.Render(workers)),
		fmt.Sprintf("%s %s", LabelStyle.Render("Peak:"), ValueStyle.Render(fmt.Sprintf("%d", r.PeakRunning))),
		fmt.Sprintf("%s %s", LabelStyle.Render("Elapsed:"), DurationStyle.Render(types.FormatDuration(r.Duration))),
	}
	if r.Throttles > 0 {
		info = append(info, WarningStyle.Render(fmt.Sprintf("throttled %s%s", humanize.Comma(int64(r.Throttles)), plural(r.Throttles, " time", " times"))))
	}
	lines = append(lines, strings.Join(info, "  "))

	if r.Interrupted {
		lines = append(lines, WarningStyle.Bold(true).Render("Run interrupted by user"))
	}
	return HeaderBox.Render(strings.Join(lines, "\n"))
}

func (f *PrettyFormatter) formatTable(r *Report) string {
	if len(r.Rows) == 0 {
		return MutedStyle.Render("  No targets were scanned\n")
	}

	targetWidth := len("TARGET")
	for _, row := range r.Rows {
		targetWidth = max(targetWidth, lipgloss.Width(row.Target))
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
		TableHeaderStyle.Render(padRight("STATE", 9)),
		TableHeaderStyle.Render(padRight("TARGET", targetWidth)),
		TableHeaderStyle.Render(padLeft("DURATION", 8)),
		TableHeaderStyle.Render("DETAIL")))

	for _, row := range r.Rows {
		detail := row.Artifact
		if row.State != types.StateSucceeded.String() {
			detail = row.Diagnostic
		}
		sb.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
			StateStyle(row.State).Render(padRight(row.State, 9)),
			TargetStyle.Render(padRight(row.Target, targetWidth)),
			DurationStyle.Render(padLeft(types.FormatDuration(row.Duration), 8)),
			MutedStyle.Render(detail)))
	}
	return sb.String()
}

func (f *PrettyFormatter) formatFooter(r *Report) string {
	s := r.Stats
	parts := []string{
		fmt.Sprintf("%s %s", LabelStyle.Render("Targets:"), ValueStyle.Render(fmt.Sprintf("%d", s.Total))),
		SuccessStyle.Render(fmt.Sprintf("%d succeeded", s.Succeeded)),
		ErrorStyle.Render(fmt.Sprintf("%d failed", s.Failed)),
		WarningStyle.Render(fmt.Sprintf("%d timed out", s.TimedOut)),
	}
	if s.Cancelled > 0 {
		parts = append(parts, MutedStyle.Render(fmt.Sprintf("%d cancelled", s.Cancelled)))
	}
	if s.Skipped > 0 {
		parts = append(parts, MutedStyle.Render(fmt.Sprintf("%d skipped", s.Skipped)))
	}
	parts = append(parts, MutedStyle.Render("Use -o plain for unformatted output"))
	return FooterBox.Render(strings.Join(parts, "  "))
}

func (f *PrettyFormatter) formatWarnings(warnings []string) string {
	var sb strings.Builder
	sb.WriteString(WarningStyle.Bold(true).Render("Warnings:"))
	sb.WriteString("\n")
	for _, warning := range warnings {
		sb.WriteString(WarningStyle.Render("  " + warning))
		sb.WriteString("\n")
	}
	return sb.String()
}

func padLeft(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return strings.Repeat(" ", width-n) + s
	}
	return s
}

func padRight(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)
