package types

import (
	"fmt"
	"strings"
	"time"
)

// Default pool values.
const (
	// DefaultCPUPercent is the CPU usage above which dispatch is throttled.
	DefaultCPUPercent = 80.0

	// DefaultMemPercent is the memory usage above which dispatch is throttled.
	DefaultMemPercent = 85.0

	// DefaultMinFreeRAMGB is the free RAM below which dispatch is throttled.
	DefaultMinFreeRAMGB = 1.0

	// DefaultTaskTimeout bounds a single scan invocation.
	DefaultTaskTimeout = 10 * time.Minute

	// DefaultWorkerCeiling is the absolute worker cap regardless of hardware.
	DefaultWorkerCeiling = 8
)

// Thresholds configures when the overload guard throttles dispatch.
type Thresholds struct {
	// CPUPercent triggers when host CPU usage is strictly above it.
	CPUPercent float64 `json:"cpu_pct" yaml:"cpu_pct" mapstructure:"cpu_pct"`

	// MemPercent triggers when host memory usage is strictly above it.
	MemPercent float64 `json:"mem_pct" yaml:"mem_pct" mapstructure:"mem_pct"`

	// MinFreeRAMGB triggers when available RAM is strictly below it.
	MinFreeRAMGB float64 `json:"min_free_ram_gb" yaml:"min_free_ram_gb" mapstructure:"min_free_ram_gb"`
}

// DefaultThresholds returns the documented overload thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUPercent:   DefaultCPUPercent,
		MemPercent:   DefaultMemPercent,
		MinFreeRAMGB: DefaultMinFreeRAMGB,
	}
}

// Validate checks the thresholds are within range.
func (t Thresholds) Validate() error {
	if t.CPUPercent <= 0 || t.CPUPercent > 100 {
		return &ConfigurationError{Field: "thresholds.cpu_pct", Reason: fmt.Sprintf("%.1f not in (0, 100]", t.CPUPercent)}
	}
	if t.MemPercent <= 0 || t.MemPercent > 100 {
		return &ConfigurationError{Field: "thresholds.mem_pct", Reason: fmt.Sprintf("%.1f not in (0, 100]", t.MemPercent)}
	}
	if t.MinFreeRAMGB < 0 {
		return &ConfigurationError{Field: "thresholds.min_free_ram_gb", Reason: "must not be negative"}
	}
	return nil
}

// String renders the thresholds as "cpu>80% mem>85% free<1GB".
func (t Thresholds) String() string {
	return fmt.Sprintf("cpu>%g%% mem>%g%% free<%gGB", t.CPUPercent, t.MemPercent, t.MinFreeRAMGB)
}

// Recovery selects what happens after the guard has fallen back to a
// single worker and the host becomes healthy again.
type Recovery int

const (
	// RecoveryAuto restores the operator-confirmed worker count as soon as
	// a snapshot is healthy.
	RecoveryAuto Recovery = iota

	// RecoveryHold keeps the reduced bound for the rest of the run. A new
	// run (and a fresh confirmation) is needed to scale back up.
	RecoveryHold
)

// String returns the configuration name of the policy.
func (r Recovery) String() string {
	switch r {
	case RecoveryAuto:
		return "auto"
	case RecoveryHold:
		return "hold"
	default:
		return "unknown"
	}
}

// ParseRecovery parses "auto" or "hold".
func ParseRecovery(s string) (Recovery, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return RecoveryAuto, nil
	case "hold":
		return RecoveryHold, nil
	default:
		return RecoveryAuto, &ConfigurationError{Field: "pool.recovery", Reason: fmt.Sprintf("unknown policy %q", s)}
	}
}

// PoolConfig is the per-run configuration of the task scheduler.
// MaxWorkers is the operator-confirmed bound; the guard may lower the
// effective bound during a run but never raises it above MaxWorkers.
type PoolConfig struct {
	MaxWorkers     int           `json:"max_workers" yaml:"max_workers"`
	PerTaskTimeout time.Duration `json:"per_task_timeout" yaml:"per_task_timeout"`
	Thresholds     Thresholds    `json:"overload_thresholds" yaml:"overload_thresholds"`
	Recovery       Recovery      `json:"recovery" yaml:"recovery"`
}

// Validate returns a ConfigurationError when the config cannot be run.
func (c PoolConfig) Validate() error {
	if c.MaxWorkers <= 0 {
		return &ConfigurationError{Field: "max_workers", Reason: fmt.Sprintf("%d must be positive", c.MaxWorkers)}
	}
	if c.PerTaskTimeout <= 0 {
		return &ConfigurationError{Field: "per_task_timeout", Reason: fmt.Sprintf("%s must be positive", c.PerTaskTimeout)}
	}
	return c.Thresholds.Validate()
}

// NewPoolConfig builds a validated PoolConfig. The requested worker count
// is clamped to [1, hardCap]; a hard cap below 1 is a configuration error.
func NewPoolConfig(requested, hardCap int, timeout time.Duration, thresholds Thresholds, recovery Recovery) (PoolConfig, error) {
	if hardCap < 1 {
		return PoolConfig{}, &ConfigurationError{Field: "hard_cap", Reason: fmt.Sprintf("%d must be positive", hardCap)}
	}

	cfg := PoolConfig{
		MaxWorkers:     ClampWorkers(requested, hardCap),
		PerTaskTimeout: timeout,
		Thresholds:     thresholds,
		Recovery:       recovery,
	}
	if err := cfg.Validate(); err != nil {
		return PoolConfig{}, err
	}
	return cfg, nil
}

// ClampWorkers returns requested limited to [1, hardCap].
func ClampWorkers(requested, hardCap int) int {
	return max(1, min(requested, hardCap))
}
