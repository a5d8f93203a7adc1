// Package config loads easscan configuration from file, environment and
// command-line flags.
package config

import "time"

// Default configuration values for easscan.
const (
	// AppName names the XDG directories and the environment prefix.
	AppName = "easscan"

	// EnvPrefix prefixes environment overrides, e.g. EASSCAN_WORKERS_COUNT.
	EnvPrefix = "EASSCAN"

	// DefaultWorkerCeiling is the absolute worker cap regardless of hardware.
	DefaultWorkerCeiling = 8

	// DefaultTimeout bounds one scan invocation.
	DefaultTimeout = 10 * time.Minute

	// DefaultSampleTimeout bounds one host resource reading.
	DefaultSampleTimeout = 500 * time.Millisecond

	// DefaultRecovery is the guard recovery policy.
	DefaultRecovery = "auto"

	// DefaultOutputDir is the per-target output root.
	DefaultOutputDir = "output"

	// DefaultConflict is the strategy for targets with existing output.
	DefaultConflict = "prompt"

	// DefaultFormat is the run report format.
	DefaultFormat = "pretty"

	// DefaultTool is the scan tool profile.
	DefaultTool = "testssl"

	// DefaultRetentionDays is how long manifest entries are kept.
	DefaultRetentionDays = 30
)

// DefaultComponents are the per-component log levels written by WriteDefault.
var DefaultComponents = map[string]string{
	"tuner":     "info",
	"guard":     "info",
	"scheduler": "info",
	"executor":  "warn",
	"workspace": "info",
}
