// Package types provides core data types for the easscan orchestrator.
// It includes targets, task states, scan results, resource snapshots and
// the pool configuration shared by the tuner, guard and scheduler, along
// with the error taxonomy surfaced on results.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Target is a single domain or subdomain to scan.
// Targets are unique within a run.
type Target string

// String returns the target as a plain string.
func (t Target) String() string {
	return string(t)
}

// TaskState is the lifecycle state of a scan task.
// Transitions only move forward: Pending -> Running -> terminal.
type TaskState int

// Task states. Cancelled is a variant of Failed used when a run is interrupted.
const (
	StatePending TaskState = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateTimedOut
	StateCancelled
)

// String returns the lowercase name of the state.
func (s TaskState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s TaskState) Terminal() bool {
	return s >= StateSucceeded
}

// CanTransition reports whether moving from s to next is allowed.
func (s TaskState) CanTransition(next TaskState) bool {
	switch s {
	case StatePending:
		// Pending tasks may be cancelled without ever running.
		return next == StateRunning || next == StateCancelled
	case StateRunning:
		return next.Terminal()
	default:
		return false
	}
}

// ParseTaskState parses the output of TaskState.String.
func ParseTaskState(s string) (TaskState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return StatePending, nil
	case "running":
		return StateRunning, nil
	case "succeeded":
		return StateSucceeded, nil
	case "failed":
		return StateFailed, nil
	case "timed_out", "timedout", "timeout":
		return StateTimedOut, nil
	case "cancelled", "canceled":
		return StateCancelled, nil
	default:
		return StatePending, fmt.Errorf("unknown task state %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s TaskState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TaskState) UnmarshalText(text []byte) error {
	parsed, err := ParseTaskState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ErrorKind classifies why a task did not succeed.
type ErrorKind int

// Error kinds recorded on results.
const (
	KindNone ErrorKind = iota
	KindTimeout
	KindExecution
	KindCancelled
)

// String returns the lowercase name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return ""
	case KindTimeout:
		return "timeout"
	case KindExecution:
		return "execution"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "":
		*k = KindNone
	case "timeout":
		*k = KindTimeout
	case "execution":
		*k = KindExecution
	case "cancelled":
		*k = KindCancelled
	default:
		return fmt.Errorf("unknown error kind %q", text)
	}
	return nil
}

// ScanResult is the terminal record of a single scan task.
// Exactly one is produced per submitted target.
type ScanResult struct {
	// Target is the scanned domain.
	Target Target `json:"target"`

	// Index is the position of the target in the submitted sequence.
	Index int `json:"index"`

	// State is the terminal state reached by the task.
	State TaskState `json:"state"`

	// Duration is the wall-clock time spent running. Zero for tasks
	// cancelled before dispatch.
	Duration time.Duration `json:"duration"`

	// ExitStatus is the collaborator's exit status, nil when the process
	// never reported one (timeout, cancellation, spawn failure).
	ExitStatus *int `json:"exit_status,omitempty"`

	// OutputPath is the artifact produced by the scan. Only set for
	// succeeded tasks.
	OutputPath string `json:"output_path,omitempty"`

	// Error classifies a non-successful outcome.
	Error ErrorKind `json:"error,omitempty"`

	// Diagnostic is a short human-readable failure summary.
	Diagnostic string `json:"diagnostic,omitempty"`

	// StartedAt is when the task entered Running.
	StartedAt time.Time `json:"started_at,omitempty"`

	// FinishedAt is when the task reached its terminal state.
	FinishedAt time.Time `json:"finished_at"`
}

// Succeeded reports whether the task finished successfully.
func (r ScanResult) Succeeded() bool {
	return r.State == StateSucceeded
}

// ResourceSnapshot is a point-in-time reading of host resources.
// Snapshots are values and are never updated after capture.
type ResourceSnapshot struct {
	CPUPercent     float64   `json:"cpu_percent"`
	MemPercent     float64   `json:"mem_percent"`
	AvailableRAMGB float64   `json:"available_ram_gb"`
	LoadAvg        float64   `json:"load_avg"`
	CoreCount      int       `json:"core_count"`
	TakenAt        time.Time `json:"taken_at"`
}

// String returns a compact description of the snapshot for logs.
func (s ResourceSnapshot) String() string {
	return fmt.Sprintf("cpu=%.1f%% mem=%.1f%% free=%.2fGB load=%.2f cores=%d",
		s.CPUPercent, s.MemPercent, s.AvailableRAMGB, s.LoadAvg, s.CoreCount)
}
