package output

import (
	"bytes"
	"encoding/json"
)

// jsonOutput represents the full JSON output structure.
type jsonOutput struct {
	Targets []jsonRow `json:"targets"`
	Stats   Stats     `json:"stats"`
	Meta    jsonMeta  `json:"meta"`
}

// jsonRow is a row with a readable duration.
type jsonRow struct {
	Index      int    `json:"index"`
	Target     string `json:"target"`
	State      string `json:"state"`
	Duration   string `json:"duration,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	ExitStatus *int   `json:"exit_status,omitempty"`
	Artifact   string `json:"artifact,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

type jsonMeta struct {
	RunID       string   `json:"run_id"`
	Tool        string   `json:"tool"`
	Duration    string   `json:"duration"`
	Suggested   int      `json:"suggested_workers,omitempty"`
	Confirmed   int      `json:"confirmed_workers"`
	HardCap     int      `json:"hard_cap"`
	PeakRunning int      `json:"peak_running"`
	Throttles   int      `json:"throttles"`
	Interrupted bool     `json:"interrupted"`
	Warnings    []string `json:"warnings,omitempty"`
}

func toJSONRow(row Row) jsonRow {
	return jsonRow{
		Index:      row.Index,
		Target:     row.Target,
		State:      row.State,
		Duration:   formatDurationString(row.Duration),
		DurationMS: row.Duration.Milliseconds(),
		ExitStatus: row.ExitStatus,
		Artifact:   row.Artifact,
		Diagnostic: row.Diagnostic,
	}
}

func buildMeta(r *Report) jsonMeta {
	return jsonMeta{
		RunID:       r.RunID,
		Tool:        r.Tool,
		Duration:    formatDurationString(r.Duration),
		Suggested:   r.Suggested,
		Confirmed:   r.Confirmed,
		HardCap:     r.HardCap,
		PeakRunning: r.PeakRunning,
		Throttles:   r.Throttles,
		Interrupted: r.Interrupted,
		Warnings:    r.Warnings,
	}
}

// JSONFormatter formats the report as a single indented JSON object.
type JSONFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONFormatter) Format(w *bytes.Buffer, r *Report) error {
	rows := make([]jsonRow, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = toJSONRow(row)
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(jsonOutput{Targets: rows, Stats: r.Stats, Meta: buildMeta(r)})
}

func init() {
	Register("json", func() Formatter {
		return &JSONFormatter{}
	})
}

// Ensure JSONFormatter implements Formatter.
var _ Formatter = (*JSONFormatter)(nil)

// JSONLFormatter writes one compact JSON object per target, for jq and
// other line-oriented consumers.
type JSONLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *JSONLFormatter) Format(w *bytes.Buffer, r *Report) error {
	for _, row := range r.Rows {
		data, err := json.Marshal(toJSONRow(row))
		if err != nil {
			return err
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	return nil
}

func init() {
	Register("jsonl", func() Formatter {
		return &JSONLFormatter{}
	})
}

// Ensure JSONLFormatter implements Formatter.
var _ Formatter = (*JSONLFormatter)(nil)
