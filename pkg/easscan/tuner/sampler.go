package tuner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jamesainslie/easscan/pkg/easscan/logging"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// DefaultSampleTimeout bounds a single host reading.
const DefaultSampleTimeout = 500 * time.Millisecond

// now is replaced in tests.
var now = time.Now

// HostSampler reads the local host through gopsutil.
//
// CPU usage is computed against the previous call (interval 0), so a
// reading never sleeps. The very first reading of the process compares
// against the counters captured when gopsutil was loaded.
type HostSampler struct {
	timeout time.Duration
	logger  *logging.Logger

	cpuPercent func(ctx context.Context) (float64, error)
	memory     func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	loadAvg    func(ctx context.Context) (float64, error)
	numCPU     func() int
}

// HostOption configures a HostSampler.
type HostOption func(*HostSampler)

// WithSampleTimeout sets the per-reading timeout.
func WithSampleTimeout(d time.Duration) HostOption {
	return func(s *HostSampler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger used for tolerated read failures.
func WithLogger(l *logging.Logger) HostOption {
	return func(s *HostSampler) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewHostSampler returns a sampler backed by the operating system.
func NewHostSampler(opts ...HostOption) *HostSampler {
	s := &HostSampler{
		timeout:    DefaultSampleTimeout,
		logger:     logging.Get("tuner"),
		cpuPercent: readCPUPercent,
		memory:     mem.VirtualMemoryWithContext,
		loadAvg:    readLoadAvg,
		numCPU:     runtime.NumCPU,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample implements Sampler.
// CPU and memory are required; the load average is best-effort and
// reported as 0 on platforms that do not expose it.
func (s *HostSampler) Sample(ctx context.Context) (types.ResourceSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	snap := types.ResourceSnapshot{CoreCount: s.numCPU()}

	cpuPct, err := s.cpuPercent(ctx)
	if err != nil {
		return snap, fmt.Errorf("%w: cpu: %w", types.ErrSampling, err)
	}
	snap.CPUPercent = cpuPct

	vm, err := s.memory(ctx)
	if err != nil {
		return snap, fmt.Errorf("%w: memory: %w", types.ErrSampling, err)
	}
	if vm == nil {
		return snap, fmt.Errorf("%w: memory: no statistics", types.ErrSampling)
	}
	snap.MemPercent = vm.UsedPercent
	snap.AvailableRAMGB = types.BytesToGB(vm.Available)

	if avg, err := s.loadAvg(ctx); err != nil {
		s.logger.Debug("load average unavailable", "error", err)
	} else {
		snap.LoadAvg = avg
	}

	if err := ctx.Err(); err != nil {
		return snap, fmt.Errorf("%w: %w", types.ErrSampling, err)
	}

	snap.TakenAt = now()
	return snap, nil
}

func readCPUPercent(ctx context.Context) (float64, error) {
	pcts, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, err
	}
	if len(pcts) == 0 {
		return 0, errors.New("no cpu statistics")
	}
	return pcts[0], nil
}

func readLoadAvg(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return avg.Load1, nil
}
