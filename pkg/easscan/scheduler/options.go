// Package scheduler runs one scan per target under a bounded, adaptive
// number of workers. A single dispatcher goroutine owns the pending queue
// and the running count; the overload guard is consulted before the first
// batch and whenever a slot frees while targets remain.
package scheduler

import (
	"github.com/jamesainslie/easscan/pkg/easscan/executor"
	"github.com/jamesainslie/easscan/pkg/easscan/guard"
	"github.com/jamesainslie/easscan/pkg/easscan/logging"
	"github.com/jamesainslie/easscan/pkg/easscan/progress"
	"github.com/jamesainslie/easscan/pkg/easscan/tuner"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// Options configures the scheduler.
type Options struct {
	// Invoker runs the scan for one target. Required.
	Invoker executor.Invoker

	// Sampler provides the snapshots the overload guard evaluates. Required.
	Sampler tuner.Sampler

	// Reporter receives every terminal result. If nil, one is created per run.
	Reporter *progress.Reporter

	// Observer is notified of dispatches, completions and guard decisions.
	// It is called from the dispatcher goroutine only.
	Observer Observer

	// DispatchRate limits how many tasks start per second. 0 is unlimited.
	DispatchRate float64

	// Logger receives scheduler events. Defaults to the "scheduler"
	// component logger.
	Logger *logging.Logger
}

// Validate checks the required collaborators and fills defaults.
func (o *Options) Validate() error {
	if o.Invoker == nil {
		return &types.ConfigurationError{Field: "invoker", Reason: "no scan collaborator"}
	}
	if o.Sampler == nil {
		return &types.ConfigurationError{Field: "sampler", Reason: "no resource sampler"}
	}
	if o.DispatchRate < 0 {
		return &types.ConfigurationError{Field: "pool.dispatch_rate", Reason: "must not be negative"}
	}
	if o.Observer == nil {
		o.Observer = NopObserver{}
	}
	if o.Logger == nil {
		o.Logger = logging.Get("scheduler")
	}
	return nil
}

// Observer watches a run from the dispatcher goroutine.
type Observer interface {
	// Dispatched is called after a task enters Running.
	Dispatched(target types.Target, running, bound int)

	// Finished is called after a terminal result is recorded.
	Finished(res types.ScanResult, running int)

	// Decided is called after every guard check.
	Decided(d guard.Decision, effective int)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) Dispatched(types.Target, int, int) {}
func (NopObserver) Finished(types.ScanResult, int)    {}
func (NopObserver) Decided(guard.Decision, int)       {}

// Observers fans events out to several observers.
type Observers []Observer

func (obs Observers) Dispatched(t types.Target, running, bound int) {
	for _, o := range obs {
		o.Dispatched(t, running, bound)
	}
}

func (obs Observers) Finished(res types.ScanResult, running int) {
	for _, o := range obs {
		o.Finished(res, running)
	}
}

func (obs Observers) Decided(d guard.Decision, effective int) {
	for _, o := range obs {
		o.Decided(d, effective)
	}
}
