package output

import (
	"bytes"
	"time"

	"gopkg.in/yaml.v3"
)

type yamlOutput struct {
	Targets []yamlRow `yaml:"targets"`
	Stats   Stats     `yaml:"stats"`
	Meta    yamlMeta  `yaml:"meta"`
}

type yamlRow struct {
	Target     string `yaml:"target"`
	State      string `yaml:"state"`
	Duration   string `yaml:"duration,omitempty"`
	ExitStatus *int   `yaml:"exit_status,omitempty"`
	Artifact   string `yaml:"artifact,omitempty"`
	Diagnostic string `yaml:"diagnostic,omitempty"`
}

type yamlMeta struct {
	RunID       string   `yaml:"run_id"`
	Tool        string   `yaml:"tool"`
	Duration    string   `yaml:"duration"`
	Confirmed   int      `yaml:"confirmed_workers"`
	HardCap     int      `yaml:"hard_cap"`
	PeakRunning int      `yaml:"peak_running"`
	Throttles   int      `yaml:"throttles"`
	Interrupted bool     `yaml:"interrupted"`
	Warnings    []string `yaml:"warnings,omitempty"`
}

// YAMLFormatter formats the report as YAML with the same structure as
// JSONFormatter.
type YAMLFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *YAMLFormatter) Format(w *bytes.Buffer, r *Report) error {
	rows := make([]yamlRow, len(r.Rows))
	for i, row := range r.Rows {
		rows[i] = yamlRow{
			Target:     row.Target,
			State:      row.State,
			Duration:   formatDurationString(row.Duration),
			ExitStatus: row.ExitStatus,
			Artifact:   row.Artifact,
			Diagnostic: row.Diagnostic,
		}
	}
	out := yamlOutput{
		Targets: rows,
		Stats:   r.Stats,
		Meta: yamlMeta{
			RunID:       r.RunID,
			Tool:        r.Tool,
			Duration:    formatDurationString(r.Duration),
			Confirmed:   r.Confirmed,
			HardCap:     r.HardCap,
			PeakRunning: r.PeakRunning,
			Throttles:   r.Throttles,
			Interrupted: r.Interrupted,
			Warnings:    r.Warnings,
		},
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(out); err != nil {
		return err
	}
	return encoder.Close()
}

// formatDurationString formats a duration for structured output. Zero is
// left empty so omitempty drops it.
func formatDurationString(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.Round(time.Millisecond).String()
}

func init() {
	Register("yaml", func() Formatter {
		return &YAMLFormatter{}
	})
}

// Ensure YAMLFormatter implements Formatter.
var _ Formatter = (*YAMLFormatter)(nil)
