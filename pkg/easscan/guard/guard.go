// Package guard decides how many scan workers the host can currently
// afford. It compares fresh resource snapshots against the configured
// overload thresholds and owns the effective worker bound of a run.
package guard

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/jamesainslie/easscan/pkg/easscan/logging"
	"github.com/jamesainslie/easscan/pkg/easscan/tuner"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// Verdict is the outcome of evaluating one snapshot.
type Verdict int

const (
	// Healthy means no threshold is breached.
	Healthy Verdict = iota

	// Throttle means a single threshold is breached; the bound drops to To.
	Throttle

	// SequentialFallback means the host is clearly overloaded (several
	// breaches) or could not be read at all; tasks run one at a time.
	SequentialFallback
)

// String returns the metric label for the verdict.
func (v Verdict) String() string {
	switch v {
	case Healthy:
		return "healthy"
	case Throttle:
		return "throttle"
	case SequentialFallback:
		return "sequential"
	default:
		return "unknown"
	}
}

// Decision is the guard's answer for one decision point.
type Decision struct {
	Verdict Verdict

	// To is the bound requested by a Throttle. It is 1 for SequentialFallback
	// and 0 (no limit) for Healthy.
	To int

	// Reasons lists the breached thresholds, e.g. "cpu 95.0% > 80.0%".
	Reasons []string

	// Snapshot is the reading the decision was based on. Zero when
	// sampling failed.
	Snapshot types.ResourceSnapshot

	// Err is the sampling error that forced a fallback, if any.
	Err error
}

// Overloaded reports whether the decision limits dispatch.
func (d Decision) Overloaded() bool {
	return d.Verdict != Healthy
}

// String renders the decision for logs and status lines.
func (d Decision) String() string {
	switch {
	case d.Err != nil:
		return fmt.Sprintf("%s (sampling failed: %v)", d.Verdict, d.Err)
	case len(d.Reasons) > 0:
		return fmt.Sprintf("%s (%s)", d.Verdict, strings.Join(d.Reasons, ", "))
	default:
		return d.Verdict.String()
	}
}

// Evaluate compares a snapshot against thresholds. It is pure: the same
// inputs always give the same decision.
func Evaluate(snap types.ResourceSnapshot, th types.Thresholds) Decision {
	var reasons []string
	if snap.CPUPercent > th.CPUPercent {
		reasons = append(reasons, fmt.Sprintf("cpu %.1f%% > %.1f%%", snap.CPUPercent, th.CPUPercent))
	}
	if snap.MemPercent > th.MemPercent {
		reasons = append(reasons, fmt.Sprintf("mem %.1f%% > %.1f%%", snap.MemPercent, th.MemPercent))
	}
	if snap.AvailableRAMGB < th.MinFreeRAMGB {
		reasons = append(reasons, fmt.Sprintf("free %.2fGB < %.2fGB", snap.AvailableRAMGB, th.MinFreeRAMGB))
	}

	d := Decision{Reasons: reasons, Snapshot: snap}
	switch len(reasons) {
	case 0:
		d.Verdict = Healthy
	case 1:
		d.Verdict, d.To = Throttle, 1
	default:
		d.Verdict, d.To = SequentialFallback, 1
	}
	return d
}

// Fallback is the decision used when no snapshot could be taken.
func Fallback(err error) Decision {
	return Decision{Verdict: SequentialFallback, To: 1, Err: err}
}

// Hook is called after every Check with the decision and the resulting
// effective bound.
type Hook func(d Decision, effective int)

// Guard tracks the effective worker bound of a single run.
//
// Check is meant to be called from one dispatcher goroutine; Effective
// and Throttles may be read from any goroutine.
type Guard struct {
	sampler    tuner.Sampler
	thresholds types.Thresholds
	confirmed  int
	recovery   types.Recovery
	logger     *logging.Logger
	hooks      []Hook

	effective atomic.Int64
	throttles atomic.Int64
	tripped   bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the guard logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithHook registers a hook run after every decision.
func WithHook(h Hook) Option {
	return func(g *Guard) {
		if h != nil {
			g.hooks = append(g.hooks, h)
		}
	}
}

// New returns a guard for a run confirmed at cfg.MaxWorkers workers.
// The effective bound starts at the confirmed value.
func New(sampler tuner.Sampler, cfg types.PoolConfig, opts ...Option) *Guard {
	g := &Guard{
		sampler:    sampler,
		thresholds: cfg.Thresholds,
		confirmed:  max(1, cfg.MaxWorkers),
		recovery:   cfg.Recovery,
		logger:     logging.Get("guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.effective.Store(int64(g.confirmed))
	return g
}

// Check takes a fresh snapshot, evaluates it and updates the effective
// bound. A sampling failure is treated as overload.
func (g *Guard) Check(ctx context.Context) Decision {
	var d Decision
	snap, err := g.sampler.Sample(ctx)
	if err != nil {
		d = Fallback(err)
	} else {
		d = Evaluate(snap, g.thresholds)
	}

	prev := g.Effective()
	next := g.apply(d)

	switch {
	case next < prev:
		g.throttles.Add(1)
		g.logger.Warn("reducing workers", "from", prev, "to", next, "decision", d.String())
	case next > prev:
		g.logger.Info("restoring workers", "from", prev, "to", next, "snapshot", d.Snapshot.String())
	default:
		g.logger.Debug("guard check", "effective", next, "decision", d.String())
	}

	for _, h := range g.hooks {
		h(d, next)
	}
	return d
}

func (g *Guard) apply(d Decision) int {
	next := g.confirmed
	switch d.Verdict {
	case Healthy:
		if g.tripped && g.recovery == types.RecoveryHold {
			next = 1
		}
	default:
		g.tripped = true
		next = max(1, min(d.To, g.confirmed))
	}
	g.effective.Store(int64(next))
	return next
}

// Effective returns the current effective worker bound.
func (g *Guard) Effective() int {
	return int(g.effective.Load())
}

// Confirmed returns the operator-confirmed worker bound.
func (g *Guard) Confirmed() int {
	return g.confirmed
}

// Throttles returns how many checks lowered the effective bound.
func (g *Guard) Throttles() int {
	return int(g.throttles.Load())
}
