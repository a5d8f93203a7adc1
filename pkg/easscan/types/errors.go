package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the easscan error taxonomy.
var (
	// ErrSampling indicates host metrics could not be read.
	ErrSampling = errors.New("resource sampling failed")

	// ErrTimeout indicates a task exceeded its per-task timeout.
	ErrTimeout = errors.New("task timed out")

	// ErrExecution indicates the scan collaborator failed.
	ErrExecution = errors.New("scan execution failed")

	// ErrCancelled indicates the run was interrupted before the task finished.
	ErrCancelled = errors.New("task cancelled")

	// ErrConfiguration indicates an invalid pool configuration.
	ErrConfiguration = errors.New("invalid configuration")
)

// maxDiagnosticLen bounds the diagnostic summary stored on results.
const maxDiagnosticLen = 240

// ExecutionError is returned by a scan collaborator that exited non-zero
// or hit an I/O fault. Captured output is kept for diagnostics.
type ExecutionError struct {
	// ExitStatus is the process exit status, or -1 if the process never started.
	ExitStatus int

	// Stdout and Stderr hold the (possibly truncated) captured output.
	Stdout string
	Stderr string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exit %d: %v", e.ExitStatus, e.Err)
	}
	return fmt.Sprintf("exit %d", e.ExitStatus)
}

// Unwrap returns the underlying cause.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is matches ErrExecution.
func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}

// Diagnostic returns a one-line summary suitable for status lines.
// It prefers the last non-empty stderr line, then stdout, then the error.
func (e *ExecutionError) Diagnostic() string {
	for _, out := range []string{e.Stderr, e.Stdout} {
		if line := lastLine(out); line != "" {
			return Truncate(fmt.Sprintf("%s: %s", e.Error(), line), maxDiagnosticLen)
		}
	}
	return Truncate(e.Error(), maxDiagnosticLen)
}

// ConfigurationError reports an invalid configuration field.
type ConfigurationError struct {
	Field  string
	Reason string
}

// Error implements error.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
