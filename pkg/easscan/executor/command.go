package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/jamesainslie/easscan/pkg/easscan/logging"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// DefaultOutputCap is the per-stream capture limit.
const DefaultOutputCap = 1 << 20

// waitDelay bounds how long Wait blocks on inherited pipes after the
// process group has been killed.
const waitDelay = 2 * time.Second

// Layout provides the output directory of a target for a tool.
type Layout interface {
	Prepare(target types.Target, tool string) (string, error)
}

// Command runs a Profile as an external process per target.
type Command struct {
	profile   Profile
	binary    string
	layout    Layout
	outputCap int
	logger    *logging.Logger
	env       []string
}

// CommandOption configures a Command.
type CommandOption func(*Command)

// WithOutputCap sets the per-stream capture limit in bytes.
func WithOutputCap(n int) CommandOption {
	return func(c *Command) {
		if n > 0 {
			c.outputCap = n
		}
	}
}

// WithCommandLogger sets the command logger.
func WithCommandLogger(l *logging.Logger) CommandOption {
	return func(c *Command) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEnv appends KEY=value entries to the tool environment.
func WithEnv(env ...string) CommandOption {
	return func(c *Command) {
		c.env = append(c.env, env...)
	}
}

// NewCommand validates the profile, resolves its binary and returns an
// invoker. It fails with a ConfigurationError when the tool is missing.
func NewCommand(p Profile, layout Layout, opts ...CommandOption) (*Command, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if layout == nil {
		return nil, &types.ConfigurationError{Field: "output.dir", Reason: "no workspace layout"}
	}
	binary, err := p.Preflight()
	if err != nil {
		return nil, err
	}

	c := &Command{
		profile:   p,
		binary:    binary,
		layout:    layout,
		outputCap: DefaultOutputCap,
		logger:    logging.Get("executor"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Profile returns the profile the command runs.
func (c *Command) Profile() Profile {
	return c.profile
}

// Invoke implements Invoker. The tool runs in its own process group and
// the whole group is killed when ctx is done or timeout elapses.
func (c *Command) Invoke(ctx context.Context, target types.Target, timeout time.Duration) (Invocation, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	inv := Invocation{ExitStatus: -1}

	dir, err := c.layout.Prepare(target, c.profile.Name)
	if err != nil {
		return inv, &types.ExecutionError{ExitStatus: -1, Err: fmt.Errorf("prepare output: %w", err)}
	}
	artifact := filepath.Join(dir, c.profile.Artifact)

	args, err := c.profile.Render(ArgData{Target: target.String(), Artifact: artifact, Dir: dir})
	if err != nil {
		return inv, &types.ExecutionError{ExitStatus: -1, Err: err}
	}

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Dir = dir
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	stdout := newCappedBuffer(c.outputCap)
	stderr := newCappedBuffer(c.outputCap)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	c.logger.Debug("starting tool", "target", target, "binary", c.binary, "args", args)
	runErr := cmd.Run()

	inv.Stdout = stdout.String()
	inv.Stderr = stderr.String()
	if cmd.ProcessState != nil {
		inv.ExitStatus = cmd.ProcessState.ExitCode()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		// The group was killed; whatever the tool reported is moot.
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return inv, fmt.Errorf("%s: %w", target, types.ErrTimeout)
		}
		return inv, fmt.Errorf("%s: %w", target, types.ErrCancelled)
	}

	if runErr != nil {
		return inv, &types.ExecutionError{
			ExitStatus: inv.ExitStatus,
			Stdout:     inv.Stdout,
			Stderr:     inv.Stderr,
			Err:        runErr,
		}
	}

	if c.profile.StdoutArtifact {
		if err := os.WriteFile(artifact, stdout.Bytes(), 0o600); err != nil {
			return inv, &types.ExecutionError{ExitStatus: inv.ExitStatus, Stderr: inv.Stderr, Err: fmt.Errorf("write artifact: %w", err)}
		}
	}
	if _, err := os.Stat(artifact); err == nil {
		inv.ArtifactPath = artifact
	} else {
		c.logger.Warn("tool produced no artifact", "target", target, "artifact", artifact)
	}

	return inv, nil
}

// cappedBuffer keeps at most limit bytes and discards the rest while
// still reporting full writes so the child never blocks.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
