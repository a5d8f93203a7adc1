// Package manifest keeps a JSON history of scan runs.
package manifest

import (
	"time"

	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// Entry is one recorded run.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Tool      string         `json:"tool"`
	Pool      Pool           `json:"pool"`
	Records   []TargetRecord `json:"records"`
	Summary   Summary        `json:"summary"`
}

// Pool is the worker configuration a run used.
type Pool struct {
	Suggested  int              `json:"suggested"`
	HardCap    int              `json:"hard_cap"`
	MaxWorkers int              `json:"max_workers"`
	Timeout    time.Duration    `json:"timeout"`
	Thresholds types.Thresholds `json:"thresholds"`
	Recovery   string           `json:"recovery"`
}

// TargetRecord is the outcome of one target.
type TargetRecord struct {
	Target     types.Target    `json:"target"`
	State      types.TaskState `json:"state"`
	Duration   time.Duration   `json:"duration"`
	ExitStatus *int            `json:"exit_status,omitempty"`
	OutputPath string          `json:"output_path,omitempty"`
	Diagnostic string          `json:"diagnostic,omitempty"`
}

// Summary contains run totals.
type Summary struct {
	Total       int           `json:"total"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	TimedOut    int           `json:"timed_out"`
	Cancelled   int           `json:"cancelled"`
	Skipped     int           `json:"skipped"`
	Elapsed     time.Duration `json:"elapsed"`
	PeakRunning int           `json:"peak_running"`
	Throttles   int           `json:"throttles"`
	Interrupted bool          `json:"interrupted,omitempty"`
}

// Records converts scan results into manifest records.
func Records(results []types.ScanResult) []TargetRecord {
	out := make([]TargetRecord, 0, len(results))
	for _, r := range results {
		out = append(out, TargetRecord{
			Target:     r.Target,
			State:      r.State,
			Duration:   r.Duration,
			ExitStatus: r.ExitStatus,
			OutputPath: r.OutputPath,
			Diagnostic: r.Diagnostic,
		})
	}
	return out
}

// Summarize counts records by state. Skipped targets are not in records and
// are passed separately.
func Summarize(records []TargetRecord, skipped int) Summary {
	s := Summary{Total: len(records) + skipped, Skipped: skipped}
	for _, r := range records {
		switch r.State {
		case types.StateSucceeded:
			s.Succeeded++
		case types.StateFailed:
			s.Failed++
		case types.StateTimedOut:
			s.TimedOut++
		case types.StateCancelled:
			s.Cancelled++
		}
	}
	return s
}
