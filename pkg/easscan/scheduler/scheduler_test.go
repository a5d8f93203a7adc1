package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/easscan/pkg/easscan/executor"
	"github.com/jamesainslie/easscan/pkg/easscan/guard"
	"github.com/jamesainslie/easscan/pkg/easscan/progress"
	"github.com/jamesainslie/easscan/pkg/easscan/tuner"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

var (
	healthy = types.ResourceSnapshot{CPUPercent: 10, MemPercent: 30, AvailableRAMGB: 16, CoreCount: 16}
	hot     = types.ResourceSnapshot{CPUPercent: 95, MemPercent: 30, AvailableRAMGB: 16, CoreCount: 16}
)

func makeTargets(n int) []types.Target {
	targets := make([]types.Target, n)
	for i := range targets {
		targets[i] = types.Target(fmt.Sprintf("host%02d.example.com", i))
	}
	return targets
}

func pool(t *testing.T, workers int, timeout time.Duration) types.PoolConfig {
	t.Helper()
	cfg, err := types.NewPoolConfig(workers, workers, timeout, types.DefaultThresholds(), types.RecoveryAuto)
	require.NoError(t, err)
	return cfg
}

// instant succeeds immediately, or fails for targets containing "bad".
func instant() executor.Invoker {
	return executor.Func(func(_ context.Context, target types.Target, _ time.Duration) (executor.Invocation, error) {
		if strings.Contains(string(target), "bad") {
			return executor.Invocation{ExitStatus: 1}, &types.ExecutionError{ExitStatus: 1, Stderr: "handshake failed"}
		}
		return executor.Invocation{ExitStatus: 0, ArtifactPath: "/out/" + string(target)}, nil
	})
}

// sleeper runs for d or until cancelled, tracking concurrency.
type sleeper struct {
	d       time.Duration
	current atomic.Int64
	peak    atomic.Int64
}

func (s *sleeper) Invoke(ctx context.Context, _ types.Target, _ time.Duration) (executor.Invocation, error) {
	n := s.current.Add(1)
	defer s.current.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	select {
	case <-time.After(s.d):
		return executor.Invocation{}, nil
	case <-ctx.Done():
		return executor.Invocation{ExitStatus: -1}, ctx.Err()
	}
}

// boundChecker fails the test if a dispatch ever exceeds the bound.
type boundChecker struct {
	NopObserver
	t         *testing.T
	mu        sync.Mutex
	decisions []guard.Verdict
}

func (b *boundChecker) Dispatched(target types.Target, running, bound int) {
	assert.LessOrEqual(b.t, running, bound, "dispatching %s", target)
}

func (b *boundChecker) Decided(d guard.Decision, _ int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decisions = append(b.decisions, d.Verdict)
}

func TestRun_EveryTargetExactlyOnce(t *testing.T) {
	t.Parallel()

	targets := makeTargets(20)
	targets[3] = "bad3.example.com"
	targets[11] = "bad11.example.com"

	reporter := progress.New(len(targets))
	s := New(Options{Invoker: instant(), Sampler: tuner.Static(healthy), Reporter: reporter})

	out, err := s.Run(context.Background(), targets, pool(t, 4, time.Second))
	require.NoError(t, err)
	require.Len(t, out.Results, len(targets))

	for i, res := range out.Results {
		assert.Equal(t, targets[i], res.Target, "results keep input order")
		assert.Equal(t, i, res.Index)
		assert.True(t, res.State.Terminal())
	}

	assert.Equal(t, 18, out.Count(types.StateSucceeded))
	assert.Equal(t, 2, out.Count(types.StateFailed))
	assert.Equal(t, len(targets), reporter.Completed())

	bad := out.Results[3]
	assert.Equal(t, types.KindExecution, bad.Error)
	require.NotNil(t, bad.ExitStatus)
	assert.Equal(t, 1, *bad.ExitStatus)
	assert.Contains(t, bad.Diagnostic, "handshake failed")
	assert.Empty(t, bad.OutputPath, "artifacts only for succeeded tasks")

	ok := out.Results[0]
	assert.Equal(t, "/out/host00.example.com", ok.OutputPath)
	assert.False(t, out.Interrupted)
}

func TestRun_NeverExceedsBound(t *testing.T) {
	t.Parallel()

	inv := &sleeper{d: 5 * time.Millisecond}
	obs := &boundChecker{t: t}
	s := New(Options{Invoker: inv, Sampler: tuner.Static(healthy), Observer: obs})

	out, err := s.Run(context.Background(), makeTargets(30), pool(t, 3, time.Second))
	require.NoError(t, err)

	assert.LessOrEqual(t, inv.peak.Load(), int64(3))
	assert.LessOrEqual(t, out.PeakRunning, 3)
	assert.Equal(t, 30, out.Count(types.StateSucceeded))
	assert.GreaterOrEqual(t, out.Checks, 1)
}

func TestRun_HighCPUForcesSequential(t *testing.T) {
	t.Parallel()

	inv := &sleeper{d: 5 * time.Millisecond}
	obs := &boundChecker{t: t}
	s := New(Options{Invoker: inv, Sampler: tuner.Static(hot), Observer: obs})

	out, err := s.Run(context.Background(), makeTargets(8), pool(t, 4, time.Second))
	require.NoError(t, err)

	assert.Equal(t, int64(1), inv.peak.Load())
	assert.Equal(t, 1, out.PeakRunning)
	assert.Equal(t, 1, out.Throttles)
	assert.Equal(t, 8, out.Count(types.StateSucceeded))
	require.NotEmpty(t, obs.decisions)
	assert.Equal(t, guard.Throttle, obs.decisions[0])
}

func TestRun_SamplingFailureRunsSequentially(t *testing.T) {
	t.Parallel()

	failing := tuner.SamplerFunc(func(context.Context) (types.ResourceSnapshot, error) {
		return types.ResourceSnapshot{}, fmt.Errorf("%w: no /proc", types.ErrSampling)
	})
	inv := &sleeper{d: 5 * time.Millisecond}
	s := New(Options{Invoker: inv, Sampler: failing})

	out, err := s.Run(context.Background(), makeTargets(5), pool(t, 4, time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), inv.peak.Load())
	assert.Equal(t, 5, out.Count(types.StateSucceeded))
}

// flipping reports hot for the first n samples, then healthy.
type flipping struct {
	n     atomic.Int64
	after int64
}

func (f *flipping) Sample(context.Context) (types.ResourceSnapshot, error) {
	if f.n.Add(1) <= f.after {
		return hot, nil
	}
	return healthy, nil
}

func TestRun_Recovery(t *testing.T) {
	t.Parallel()

	t.Run("auto", func(t *testing.T) {
		t.Parallel()
		inv := &sleeper{d: 20 * time.Millisecond}
		obs := &boundChecker{t: t}
		s := New(Options{Invoker: inv, Sampler: &flipping{after: 1}, Observer: obs})

		out, err := s.Run(context.Background(), makeTargets(10), pool(t, 4, time.Second))
		require.NoError(t, err)
		assert.Greater(t, out.PeakRunning, 1, "bound restored once healthy")
		assert.LessOrEqual(t, out.PeakRunning, 4)
	})

	t.Run("hold", func(t *testing.T) {
		t.Parallel()
		inv := &sleeper{d: 5 * time.Millisecond}
		s := New(Options{Invoker: inv, Sampler: &flipping{after: 1}})

		cfg := pool(t, 4, time.Second)
		cfg.Recovery = types.RecoveryHold
		out, err := s.Run(context.Background(), makeTargets(10), cfg)
		require.NoError(t, err)
		assert.Equal(t, 1, out.PeakRunning)
	})
}

func TestRun_NeverReturningTaskTimesOut(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	inv := executor.Func(func(_ context.Context, target types.Target, _ time.Duration) (executor.Invocation, error) {
		if target == "stuck.example.com" {
			<-release // ignores its context
		}
		return executor.Invocation{}, nil
	})

	const timeout = 200 * time.Millisecond
	targets := []types.Target{"stuck.example.com", "a.example.com", "b.example.com", "c.example.com"}
	s := New(Options{Invoker: inv, Sampler: tuner.Static(healthy)})

	start := time.Now()
	out, err := s.Run(context.Background(), targets, pool(t, 2, timeout))
	require.NoError(t, err)

	stuck := out.Results[0]
	assert.Equal(t, types.StateTimedOut, stuck.State)
	assert.Equal(t, types.KindTimeout, stuck.Error)
	assert.Nil(t, stuck.ExitStatus)
	assert.InDelta(t, timeout.Seconds(), stuck.Duration.Seconds(), 0.15)

	for _, res := range out.Results[1:] {
		assert.Equal(t, types.StateSucceeded, res.State, res.Target)
		assert.Less(t, res.FinishedAt.Sub(start), timeout, "%s not delayed by the stuck task", res.Target)
	}
	assert.Less(t, time.Since(start), timeout+500*time.Millisecond)
}

func TestRun_ContextAwareTimeout(t *testing.T) {
	t.Parallel()

	inv := &sleeper{d: time.Minute}
	s := New(Options{Invoker: inv, Sampler: tuner.Static(healthy)})

	out, err := s.Run(context.Background(), makeTargets(2), pool(t, 2, 100*time.Millisecond))
	require.NoError(t, err)
	for _, res := range out.Results {
		assert.Equal(t, types.StateTimedOut, res.State)
	}
}

func TestRun_SameStatesForAnyWorkerCount(t *testing.T) {
	t.Parallel()

	targets := []types.Target{"a.example", "bad.example", "c.example", "bad2.example", "e.example"}

	states := func(workers int) map[types.Target]types.TaskState {
		s := New(Options{Invoker: instant(), Sampler: tuner.Static(healthy)})
		out, err := s.Run(context.Background(), targets, pool(t, workers, time.Second))
		require.NoError(t, err)
		return out.States()
	}

	assert.Equal(t, states(1), states(4))
}

func TestRun_Timing(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test runs for several seconds")
	}
	t.Parallel()

	tests := []struct {
		workers int
		want    time.Duration
	}{
		{workers: 2, want: 3 * time.Second},
		{workers: 1, want: 5 * time.Second},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(fmt.Sprintf("%d workers", tt.workers), func(t *testing.T) {
			t.Parallel()

			s := New(Options{Invoker: &sleeper{d: time.Second}, Sampler: tuner.Static(healthy)})
			out, err := s.Run(context.Background(), makeTargets(5), pool(t, tt.workers, 10*time.Second))
			require.NoError(t, err)
			assert.InDelta(t, tt.want.Seconds(), out.Elapsed.Seconds(), 0.5)
		})
	}
}

// cancelAfter cancels the run once n tasks have succeeded.
type cancelAfter struct {
	NopObserver
	n      int
	seen   int
	cancel context.CancelFunc
}

func (c *cancelAfter) Finished(res types.ScanResult, _ int) {
	if res.State == types.StateSucceeded {
		c.seen++
		if c.seen == c.n {
			c.cancel()
		}
	}
}

func TestRun_CancelKeepsFinishedTasks(t *testing.T) {
	t.Parallel()

	targets := makeTargets(5)
	inv := executor.Func(func(ctx context.Context, target types.Target, _ time.Duration) (executor.Invocation, error) {
		if target == targets[0] || target == targets[1] {
			return executor.Invocation{}, nil
		}
		<-ctx.Done()
		return executor.Invocation{ExitStatus: -1}, fmt.Errorf("%s: %w", target, types.ErrCancelled)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reporter := progress.New(len(targets))
	s := New(Options{
		Invoker:  inv,
		Sampler:  tuner.Static(healthy),
		Reporter: reporter,
		Observer: &cancelAfter{n: 2, cancel: cancel},
	})

	out, err := s.Run(ctx, targets, pool(t, 2, time.Minute))
	require.NoError(t, err)
	require.Len(t, out.Results, 5)

	assert.Equal(t, types.StateSucceeded, out.Results[0].State)
	assert.Equal(t, types.StateSucceeded, out.Results[1].State)
	for _, res := range out.Results[2:] {
		assert.Equal(t, types.StateCancelled, res.State, res.Target)
		assert.Equal(t, types.KindCancelled, res.Error)
	}
	assert.True(t, out.Interrupted)
	assert.Equal(t, 5, reporter.Completed(), "cancelled tasks are reported too")
}

func TestRun_AlreadyCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(Options{Invoker: instant(), Sampler: tuner.Static(healthy)})
	out, err := s.Run(ctx, makeTargets(3), pool(t, 2, time.Second))
	require.NoError(t, err)

	assert.Equal(t, 3, out.Count(types.StateCancelled))
	for _, res := range out.Results {
		assert.Zero(t, res.Duration)
	}
}

func TestRun_DispatchRate(t *testing.T) {
	t.Parallel()

	s := New(Options{Invoker: instant(), Sampler: tuner.Static(healthy), DispatchRate: 20})

	out, err := s.Run(context.Background(), makeTargets(5), pool(t, 5, time.Second))
	require.NoError(t, err)
	assert.Equal(t, 5, out.Count(types.StateSucceeded))
	// One immediate dispatch, then four at 50ms intervals.
	assert.GreaterOrEqual(t, out.Elapsed, 150*time.Millisecond)
}

func TestRun_PanickingInvoker(t *testing.T) {
	t.Parallel()

	inv := executor.Func(func(context.Context, types.Target, time.Duration) (executor.Invocation, error) {
		panic("tool wrapper exploded")
	})
	s := New(Options{Invoker: inv, Sampler: tuner.Static(healthy)})

	out, err := s.Run(context.Background(), makeTargets(2), pool(t, 2, time.Second))
	require.NoError(t, err)
	for _, res := range out.Results {
		assert.Equal(t, types.StateFailed, res.State)
		assert.Contains(t, res.Diagnostic, "tool wrapper exploded")
	}
}

func TestRun_PlainErrorIsFailure(t *testing.T) {
	t.Parallel()

	inv := executor.Func(func(context.Context, types.Target, time.Duration) (executor.Invocation, error) {
		return executor.Invocation{}, errors.New("connection reset")
	})
	s := New(Options{Invoker: inv, Sampler: tuner.Static(healthy)})

	out, err := s.Run(context.Background(), makeTargets(1), pool(t, 1, time.Second))
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, out.Results[0].State)
	assert.Equal(t, "connection reset", out.Results[0].Diagnostic)
	assert.Nil(t, out.Results[0].ExitStatus)
}

func TestRun_NonZeroExitIsFailure(t *testing.T) {
	t.Parallel()

	inv := executor.Func(func(_ context.Context, target types.Target, _ time.Duration) (executor.Invocation, error) {
		return executor.Invocation{ExitStatus: 2, Stderr: "no route to host\n", ArtifactPath: "/out/" + string(target)}, nil
	})
	s := New(Options{Invoker: inv, Sampler: tuner.Static(healthy)})

	out, err := s.Run(context.Background(), makeTargets(1), pool(t, 1, time.Second))
	require.NoError(t, err)

	res := out.Results[0]
	assert.Equal(t, types.StateFailed, res.State)
	assert.Equal(t, types.KindExecution, res.Error)
	require.NotNil(t, res.ExitStatus)
	assert.Equal(t, 2, *res.ExitStatus)
	assert.Empty(t, res.OutputPath)
	assert.Equal(t, "exit 2: no route to host", res.Diagnostic)
}

func TestRecord_StatesOnlyMoveForward(t *testing.T) {
	t.Parallel()

	targets := makeTargets(2)
	s := New(Options{Invoker: instant(), Sampler: tuner.Static(healthy)})
	r := s.newRun(targets, pool(t, 1, time.Second))

	require.True(t, r.advance(0, types.StateRunning))
	require.True(t, r.record(completion{index: 0, result: types.ScanResult{Target: targets[0], State: types.StateSucceeded}}))
	assert.Equal(t, types.StateSucceeded, r.results[0].State)

	// A second terminal result for the same task is dropped.
	assert.False(t, r.record(completion{index: 0, result: types.ScanResult{Target: targets[0], State: types.StateFailed}}))
	assert.Equal(t, types.StateSucceeded, r.results[0].State)
	assert.False(t, r.advance(0, types.StateRunning))

	// Pending tasks cannot finish without running, except by cancellation.
	assert.False(t, r.advance(1, types.StateSucceeded))
	r.cancelPending()
	assert.Equal(t, types.StateCancelled, r.results[1].State)
	assert.Equal(t, 1, r.reporter.Completed())
}

func TestRun_Empty(t *testing.T) {
	t.Parallel()

	s := New(Options{Invoker: instant(), Sampler: tuner.Static(healthy)})
	out, err := s.Run(context.Background(), nil, pool(t, 2, time.Second))
	require.NoError(t, err)
	assert.Empty(t, out.Results)
	assert.Zero(t, out.Checks)
}

func TestRun_ConfigurationErrors(t *testing.T) {
	t.Parallel()

	good := types.PoolConfig{MaxWorkers: 2, PerTaskTimeout: time.Second, Thresholds: types.DefaultThresholds()}

	tests := []struct {
		name    string
		opts    Options
		targets []types.Target
		cfg     types.PoolConfig
	}{
		{name: "nil invoker", opts: Options{Sampler: tuner.Static(healthy)}, targets: makeTargets(1), cfg: good},
		{name: "nil sampler", opts: Options{Invoker: instant()}, targets: makeTargets(1), cfg: good},
		{name: "negative rate", opts: Options{Invoker: instant(), Sampler: tuner.Static(healthy), DispatchRate: -1}, targets: makeTargets(1), cfg: good},
		{name: "zero workers", opts: Options{Invoker: instant(), Sampler: tuner.Static(healthy)}, targets: makeTargets(1), cfg: types.PoolConfig{PerTaskTimeout: time.Second, Thresholds: types.DefaultThresholds()}},
		{name: "zero timeout", opts: Options{Invoker: instant(), Sampler: tuner.Static(healthy)}, targets: makeTargets(1), cfg: types.PoolConfig{MaxWorkers: 1, Thresholds: types.DefaultThresholds()}},
		{name: "duplicate target", opts: Options{Invoker: instant(), Sampler: tuner.Static(healthy)}, targets: []types.Target{"a.example", "a.example"}, cfg: good},
		{name: "empty target", opts: Options{Invoker: instant(), Sampler: tuner.Static(healthy)}, targets: []types.Target{"a.example", ""}, cfg: good},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(tt.opts).Run(context.Background(), tt.targets, tt.cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrConfiguration)
		})
	}
}
