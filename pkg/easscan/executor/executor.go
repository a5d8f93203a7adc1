// Package executor runs the external scan tool for one target.
//
// The scheduler only sees the Invoker interface. Command is the real
// implementation, backed by os/exec and a tool Profile; Func adapts a plain
// function so tests can substitute fakes.
package executor

import (
	"context"
	"time"

	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// Invocation is what a finished scan reports back.
type Invocation struct {
	// ExitStatus is the process exit status.
	ExitStatus int

	// Stdout and Stderr hold the captured output, truncated to the
	// configured cap.
	Stdout string
	Stderr string

	// ArtifactPath is the output file produced by the tool, if any.
	ArtifactPath string
}

// Invoker runs one scan. Implementations must return promptly once ctx is
// done and must be safe for concurrent use.
//
// A non-zero exit or I/O fault is returned as a *types.ExecutionError.
type Invoker interface {
	Invoke(ctx context.Context, target types.Target, timeout time.Duration) (Invocation, error)
}

// Func adapts a function to the Invoker interface.
type Func func(ctx context.Context, target types.Target, timeout time.Duration) (Invocation, error)

// Invoke calls f.
func (f Func) Invoke(ctx context.Context, target types.Target, timeout time.Duration) (Invocation, error) {
	return f(ctx, target, timeout)
}
