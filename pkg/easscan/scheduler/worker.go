package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jamesainslie/easscan/pkg/easscan/executor"
	"github.com/jamesainslie/easscan/pkg/easscan/logging"
	"github.com/jamesainslie/easscan/pkg/easscan/progress"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// taskInvoker runs one task to a terminal result.
type taskInvoker struct {
	invoker  executor.Invoker
	reporter *progress.Reporter
	logger   *logging.Logger
}

type reply struct {
	inv executor.Invocation
	err error
}

// run invokes the collaborator under the task timeout. The result is
// decided by whichever happens first: the collaborator returning or the
// task context ending. A collaborator that ignores its context is left
// behind; its slot is freed at the deadline regardless.
func (t taskInvoker) run(parent context.Context, index int, target types.Target, timeout time.Duration) types.ScanResult {
	started := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	replies := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				replies <- reply{err: &types.ExecutionError{ExitStatus: -1, Err: fmt.Errorf("panic: %v", p)}}
			}
		}()
		inv, err := t.invoker.Invoke(ctx, target, timeout)
		replies <- reply{inv: inv, err: err}
	}()

	var rep reply
	var abandoned bool
	select {
	case rep = <-replies:
	case <-ctx.Done():
		// Prefer a reply that raced the deadline.
		select {
		case rep = <-replies:
		default:
			abandoned = true
		}
	}

	res := classify(ctx, parent, rep, abandoned, timeout)
	res.Target = target
	res.Index = index
	res.StartedAt = started
	res.FinishedAt = time.Now()
	res.Duration = res.FinishedAt.Sub(started)

	t.log(res)
	t.reporter.OnTaskTerminal(res)
	return res
}

func classify(ctx, parent context.Context, rep reply, abandoned bool, timeout time.Duration) types.ScanResult {
	if !abandoned && rep.err == nil {
		if rep.inv.ExitStatus == 0 {
			status := rep.inv.ExitStatus
			return types.ScanResult{
				State:      types.StateSucceeded,
				ExitStatus: &status,
				OutputPath: rep.inv.ArtifactPath,
			}
		}
		// A non-zero exit fails the task even when the invoker reports no
		// error; its artifact is not claimed.
		rep.err = &types.ExecutionError{
			ExitStatus: rep.inv.ExitStatus,
			Stdout:     rep.inv.Stdout,
			Stderr:     rep.inv.Stderr,
		}
	}

	switch {
	case parent.Err() != nil || errors.Is(rep.err, types.ErrCancelled):
		return types.ScanResult{
			State:      types.StateCancelled,
			Error:      types.KindCancelled,
			Diagnostic: "cancelled while running",
		}
	case errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(rep.err, types.ErrTimeout):
		return types.ScanResult{
			State:      types.StateTimedOut,
			Error:      types.KindTimeout,
			Diagnostic: fmt.Sprintf("timed out after %s", timeout),
		}
	}

	res := types.ScanResult{State: types.StateFailed, Error: types.KindExecution}
	var execErr *types.ExecutionError
	if errors.As(rep.err, &execErr) {
		if execErr.ExitStatus >= 0 {
			status := execErr.ExitStatus
			res.ExitStatus = &status
		}
		res.Diagnostic = execErr.Diagnostic()
	} else {
		res.Diagnostic = types.Truncate(rep.err.Error(), 240)
	}
	return res
}

func (t taskInvoker) log(res types.ScanResult) {
	fields := []any{"target", res.Target, "state", res.State, "duration", res.Duration.Round(time.Millisecond)}
	switch res.State {
	case types.StateSucceeded:
		t.logger.Info("scan finished", append(fields, "artifact", res.OutputPath)...)
	case types.StateCancelled:
		t.logger.Info("scan cancelled", fields...)
	default:
		t.logger.Warn("scan did not succeed", append(fields, "diagnostic", res.Diagnostic)...)
	}
}
