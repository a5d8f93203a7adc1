package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/jamesainslie/easscan/pkg/easscan/guard"
	"github.com/jamesainslie/easscan/pkg/easscan/logging"
	"github.com/jamesainslie/easscan/pkg/easscan/progress"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// Outcome is the aggregated result of a run.
type Outcome struct {
	// Results holds one terminal result per target, in input order.
	Results []types.ScanResult

	// Confirmed is the operator-confirmed worker bound.
	Confirmed int

	// PeakRunning is the largest number of tasks seen Running at once.
	PeakRunning int

	// Throttles counts how many guard checks lowered the bound.
	Throttles int

	// Checks counts guard checks.
	Checks int

	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration

	// Interrupted reports whether the run was cancelled before all
	// targets were dispatched and finished.
	Interrupted bool
}

// Count returns how many results ended in state s.
func (o *Outcome) Count(s types.TaskState) int {
	n := 0
	for _, r := range o.Results {
		if r.State == s {
			n++
		}
	}
	return n
}

// States maps each target to its terminal state.
func (o *Outcome) States() map[types.Target]types.TaskState {
	m := make(map[types.Target]types.TaskState, len(o.Results))
	for _, r := range o.Results {
		m[r.Target] = r.State
	}
	return m
}

// Scheduler runs scan tasks. A Scheduler may be reused for several runs,
// but each run gets its own guard and reporter.
type Scheduler struct {
	opts Options
	err  error
}

// New returns a scheduler. Invalid options surface as a ConfigurationError
// from Run.
func New(opts Options) *Scheduler {
	s := &Scheduler{opts: opts}
	s.err = s.opts.Validate()
	return s
}

// Run dispatches one task per target and blocks until every target is
// terminal. Per-target failures never abort the run; the error return is
// reserved for configuration faults detected before dispatch.
//
// Cancelling ctx kills running tasks and records every unfinished target
// as Cancelled. Finished tasks keep their state.
func (s *Scheduler) Run(ctx context.Context, targets []types.Target, cfg types.PoolConfig) (*Outcome, error) {
	if s.err != nil {
		return nil, s.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateTargets(targets); err != nil {
		return nil, err
	}

	r := s.newRun(targets, cfg)
	return r.execute(ctx), nil
}

func validateTargets(targets []types.Target) error {
	seen := make(map[types.Target]int, len(targets))
	for i, t := range targets {
		if t == "" {
			return &types.ConfigurationError{Field: "targets", Reason: fmt.Sprintf("empty target at position %d", i)}
		}
		if j, dup := seen[t]; dup {
			return &types.ConfigurationError{Field: "targets", Reason: fmt.Sprintf("%s listed twice (positions %d and %d)", t, j, i)}
		}
		seen[t] = i
	}
	return nil
}

// completion is sent by a worker when its task is terminal.
type completion struct {
	index  int
	result types.ScanResult
}

// run is the dispatcher state of one Run call. Only the dispatcher
// goroutine touches it.
type run struct {
	targets  []types.Target
	cfg      types.PoolConfig
	invoker  taskInvoker
	guard    *guard.Guard
	reporter *progress.Reporter
	observer Observer
	limiter  *rate.Limiter
	logger   *logging.Logger

	results  []types.ScanResult
	states   []types.TaskState
	next     int
	running  int
	bound    int
	checks   int
	peak     int
	done     chan completion
}

func (s *Scheduler) newRun(targets []types.Target, cfg types.PoolConfig) *run {
	reporter := s.opts.Reporter
	if reporter == nil {
		reporter = progress.New(len(targets))
	}

	r := &run{
		targets:  targets,
		cfg:      cfg,
		invoker:  taskInvoker{invoker: s.opts.Invoker, reporter: reporter, logger: s.opts.Logger},
		reporter: reporter,
		observer: s.opts.Observer,
		logger:   s.opts.Logger,
		results:  make([]types.ScanResult, len(targets)),
		states:   make([]types.TaskState, len(targets)),
		// Buffered so a worker never blocks on a dispatcher waiting for
		// the rate limiter or a guard sample.
		done: make(chan completion, len(targets)),
	}
	if s.opts.DispatchRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(s.opts.DispatchRate), 1)
	}
	r.guard = guard.New(s.opts.Sampler, cfg,
		guard.WithHook(func(d guard.Decision, effective int) {
			r.observer.Decided(d, effective)
		}),
	)
	return r
}

func (r *run) execute(ctx context.Context) *Outcome {
	start := time.Now()
	r.logger.Info("run starting", "targets", len(r.targets), "workers", r.cfg.MaxWorkers,
		"timeout", r.cfg.PerTaskTimeout, "recovery", r.cfg.Recovery)

	// Cancelled on return so orphaned invocations are told to stop.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if len(r.targets) > 0 {
		r.check(runCtx)
	}

	cancelled := false
	stop := runCtx.Done()
	for {
		if !cancelled {
			cancelled = !r.fill(runCtx)
		}
		if r.running == 0 && (cancelled || r.next == len(r.targets)) {
			break
		}

		select {
		case c := <-r.done:
			r.running--
			r.record(c)
			if !cancelled && r.next < len(r.targets) && runCtx.Err() == nil {
				r.check(runCtx)
			}
		case <-stop:
			cancelled = true
			stop = nil
			r.logger.Warn("run cancelled", "running", r.running, "pending", len(r.targets)-r.next)
		}
	}

	interrupted := r.next < len(r.targets) || ctx.Err() != nil
	r.cancelPending()

	out := &Outcome{
		Results:     r.results,
		Confirmed:   r.guard.Confirmed(),
		PeakRunning: r.peak,
		Throttles:   r.guard.Throttles(),
		Checks:      r.checks,
		Elapsed:     time.Since(start),
		Interrupted: interrupted,
	}
	r.logger.Info("run finished",
		"elapsed", out.Elapsed.Round(time.Millisecond),
		"succeeded", out.Count(types.StateSucceeded),
		"failed", out.Count(types.StateFailed),
		"timed_out", out.Count(types.StateTimedOut),
		"cancelled", out.Count(types.StateCancelled),
		"throttles", out.Throttles)
	return out
}

// check consults the guard with a fresh snapshot and adopts its bound.
func (r *run) check(ctx context.Context) {
	r.guard.Check(ctx)
	r.checks++
	r.bound = r.guard.Effective()
}

// fill dispatches pending tasks up to the current bound. It returns false
// if the run was cancelled while waiting to dispatch.
func (r *run) fill(ctx context.Context) bool {
	for r.running < r.bound && r.next < len(r.targets) {
		if ctx.Err() != nil {
			return false
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return false
				}
				r.logger.Debug("dispatch limiter", "error", err)
			}
		}

		i := r.next
		r.next++
		if !r.advance(i, types.StateRunning) {
			continue
		}
		r.running++
		r.peak = max(r.peak, r.running)

		target, timeout := r.targets[i], r.cfg.PerTaskTimeout
		r.logger.Debug("dispatching", "target", target, "running", r.running, "bound", r.bound)
		r.observer.Dispatched(target, r.running, r.bound)

		go func() {
			r.done <- completion{index: i, result: r.invoker.run(ctx, i, target, timeout)}
		}()
	}
	return true
}

// record stores a terminal result. A result for a task that is already
// terminal is dropped and record returns false.
func (r *run) record(c completion) bool {
	if !r.advance(c.index, c.result.State) {
		return false
	}
	r.results[c.index] = c.result
	r.observer.Finished(c.result, r.running)
	return true
}

// advance moves task i to next if the lifecycle allows it.
func (r *run) advance(i int, next types.TaskState) bool {
	if !r.states[i].CanTransition(next) {
		r.logger.Error("invalid task transition", "target", r.targets[i], "from", r.states[i], "to", next)
		return false
	}
	r.states[i] = next
	return true
}

// cancelPending records every never-dispatched target as Cancelled.
func (r *run) cancelPending() {
	now := time.Now()
	for i := r.next; i < len(r.targets); i++ {
		res := types.ScanResult{
			Target:     r.targets[i],
			Index:      i,
			State:      types.StateCancelled,
			Error:      types.KindCancelled,
			Diagnostic: "cancelled before dispatch",
			FinishedAt: now,
		}
		if r.record(completion{index: i, result: res}) {
			r.reporter.OnTaskTerminal(res)
		}
	}
	r.next = len(r.targets)
}
