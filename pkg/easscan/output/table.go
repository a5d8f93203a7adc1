package output

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

var tsvEscaper = strings.NewReplacer("\t", " ", "\n", " ")

var tableHeader = []string{"TARGET", "STATE", "DURATION_MS", "EXIT", "ARTIFACT", "DIAGNOSTIC"}

func tableRecord(row Row) []string {
	exit := ""
	if row.ExitStatus != nil {
		exit = strconv.Itoa(*row.ExitStatus)
	}
	return []string{
		row.Target,
		row.State,
		strconv.FormatInt(row.Duration.Milliseconds(), 10),
		exit,
		row.Artifact,
		row.Diagnostic,
	}
}

// TSVFormatter formats the report as tab-separated values.
type TSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *TSVFormatter) Format(w *bytes.Buffer, r *Report) error {
	w.WriteString(strings.Join(tableHeader, "\t"))
	w.WriteByte('\n')
	for _, row := range r.Rows {
		rec := tableRecord(row)
		for i := range rec {
			rec[i] = tsvEscaper.Replace(rec[i])
		}
		w.WriteString(strings.Join(rec, "\t"))
		w.WriteByte('\n')
	}
	return nil
}

func init() {
	Register("tsv", func() Formatter {
		return &TSVFormatter{}
	})
}

// Ensure TSVFormatter implements Formatter.
var _ Formatter = (*TSVFormatter)(nil)

// CSVFormatter formats the report as RFC 4180 comma-separated values.
type CSVFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *CSVFormatter) Format(w *bytes.Buffer, r *Report) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(tableHeader); err != nil {
		return err
	}
	for _, row := range r.Rows {
		if err := writer.Write(tableRecord(row)); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func init() {
	Register("csv", func() Formatter {
		return &CSVFormatter{}
	})
}

// Ensure CSVFormatter implements Formatter.
var _ Formatter = (*CSVFormatter)(nil)

// MarkdownFormatter formats the report as a GitHub-flavored Markdown table
// followed by a summary line.
type MarkdownFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *MarkdownFormatter) Format(w *bytes.Buffer, r *Report) error {
	w.WriteString("| TARGET | STATE | DURATION | DETAIL |\n")
	w.WriteString("|--------|-------|----------|--------|\n")

	for _, row := range r.Rows {
		detail := row.Diagnostic
		if row.Artifact != "" {
			detail = row.Artifact
		}
		fmt.Fprintf(w, "| %s | %s | %s | %s |\n",
			escapeMarkdownPipe(row.Target),
			row.State,
			formatDurationString(row.Duration),
			escapeMarkdownPipe(detail))
	}

	s := r.Stats
	fmt.Fprintf(w, "\n**%d** targets: %d succeeded, %d failed, %d timed out, %d cancelled, %d skipped\n",
		s.Total, s.Succeeded, s.Failed, s.TimedOut, s.Cancelled, s.Skipped)
	return nil
}

// escapeMarkdownPipe escapes pipe characters for Markdown tables.
func escapeMarkdownPipe(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func init() {
	Register("markdown", func() Formatter {
		return &MarkdownFormatter{}
	})
}

// Ensure MarkdownFormatter implements Formatter.
var _ Formatter = (*MarkdownFormatter)(nil)
