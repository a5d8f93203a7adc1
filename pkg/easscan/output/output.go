// Package output renders the report of a scan run in various formats
// (pretty, plain, json, yaml, csv, ...).
//
// Formatters are registered by name and selected at runtime:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, report); err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Print(buf.String())
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/easscan/pkg/easscan/scheduler"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// StateSkipped marks a target that was never submitted.
const StateSkipped = "skipped"

// Row is one target in the report.
type Row struct {
	// Index is the position of the target in the input.
	Index int `json:"index" yaml:"index"`

	Target string `json:"target" yaml:"target"`

	// State is a task state name or "skipped".
	State string `json:"state" yaml:"state"`

	Duration time.Duration `json:"duration" yaml:"duration"`

	// ExitStatus is nil when the process never reported one.
	ExitStatus *int `json:"exit_status,omitempty" yaml:"exit_status,omitempty"`

	// Artifact is the output file, set for succeeded targets only.
	Artifact string `json:"artifact,omitempty" yaml:"artifact,omitempty"`

	// Diagnostic explains a failure or a skip.
	Diagnostic string `json:"diagnostic,omitempty" yaml:"diagnostic,omitempty"`
}

// Stats counts rows by outcome.
type Stats struct {
	Total     int `json:"total" yaml:"total"`
	Succeeded int `json:"succeeded" yaml:"succeeded"`
	Failed    int `json:"failed" yaml:"failed"`
	TimedOut  int `json:"timed_out" yaml:"timed_out"`
	Cancelled int `json:"cancelled" yaml:"cancelled"`
	Skipped   int `json:"skipped" yaml:"skipped"`
}

// Report is the complete output of a run.
type Report struct {
	RunID string
	Tool  string

	// Rows follow input order.
	Rows  []Row
	Stats Stats

	Duration    time.Duration
	Suggested   int
	Confirmed   int
	HardCap     int
	PeakRunning int
	Throttles   int
	Interrupted bool
	Warnings    []string
}

// NewReport builds a report for input from the scheduler outcome. Targets in
// skipped were never submitted; the map value is the reason.
func NewReport(runID, tool string, input []types.Target, out *scheduler.Outcome, skipped map[types.Target]string) *Report {
	r := &Report{RunID: runID, Tool: tool}

	byTarget := make(map[types.Target]types.ScanResult)
	if out != nil {
		for _, res := range out.Results {
			byTarget[res.Target] = res
		}
		r.Duration = out.Elapsed
		r.Confirmed = out.Confirmed
		r.PeakRunning = out.PeakRunning
		r.Throttles = out.Throttles
		r.Interrupted = out.Interrupted
	}

	for i, t := range input {
		if res, ok := byTarget[t]; ok {
			r.Rows = append(r.Rows, Row{
				Index:      i,
				Target:     t.String(),
				State:      res.State.String(),
				Duration:   res.Duration,
				ExitStatus: res.ExitStatus,
				Artifact:   res.OutputPath,
				Diagnostic: res.Diagnostic,
			})
			continue
		}
		if reason, ok := skipped[t]; ok {
			r.Rows = append(r.Rows, Row{Index: i, Target: t.String(), State: StateSkipped, Diagnostic: reason})
		}
	}
	r.Stats = Count(r.Rows)
	return r
}

// Count tallies rows by state.
func Count(rows []Row) Stats {
	s := Stats{Total: len(rows)}
	for _, row := range rows {
		switch row.State {
		case types.StateSucceeded.String():
			s.Succeeded++
		case types.StateFailed.String():
			s.Failed++
		case types.StateTimedOut.String():
			s.TimedOut++
		case types.StateCancelled.String():
			s.Cancelled++
		case StateSkipped:
			s.Skipped++
		}
	}
	return s
}

// Artifacts returns the artifact paths of succeeded rows.
func (r *Report) Artifacts() []string {
	var paths []string
	for _, row := range r.Rows {
		if row.Artifact != "" {
			paths = append(paths, row.Artifact)
		}
	}
	return paths
}

// Formatter is the interface that all output formatters must implement.
type Formatter interface {
	// Format writes the formatted report to the buffer.
	Format(w *bytes.Buffer, r *Report) error
}

// FormatterFactory is a function that creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates a new formatter registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]FormatterFactory),
	}
}

// Register adds a formatter factory to the registry.
// It will replace any existing formatter with the same name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, &types.ConfigurationError{Field: "output.format", Reason: fmt.Sprintf("unknown formatter %q", name)}
	}
	return factory(), nil
}

// Available returns a sorted list of all registered formatter names.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter instance from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
