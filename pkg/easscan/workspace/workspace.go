// Package workspace lays out per-target output directories and decides what
// happens when a target already has output from an earlier run.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charlievieth/fastwalk"

	"github.com/jamesainslie/easscan/pkg/easscan/logging"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// StampLayout is the suffix format used by StrategyTimestamp.
const StampLayout = "20060102_150405"

// Strategy selects what to do with targets that already have output.
type Strategy int

const (
	// StrategyPrompt asks the operator. It must be turned into one of the
	// other strategies before Resolve.
	StrategyPrompt Strategy = iota
	StrategySkip
	StrategyOverwrite
	StrategyTimestamp
)

func (s Strategy) String() string {
	switch s {
	case StrategyPrompt:
		return "prompt"
	case StrategySkip:
		return "skip"
	case StrategyOverwrite:
		return "overwrite"
	case StrategyTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy parses a strategy name. The empty string means prompt.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "prompt":
		return StrategyPrompt, nil
	case "skip":
		return StrategySkip, nil
	case "overwrite":
		return StrategyOverwrite, nil
	case "timestamp":
		return StrategyTimestamp, nil
	default:
		return StrategyPrompt, &types.ConfigurationError{
			Field:  "output.on_conflict",
			Reason: fmt.Sprintf("unknown strategy %q (want prompt, skip, overwrite or timestamp)", s),
		}
	}
}

// Entry describes existing output of one target.
type Entry struct {
	Target   types.Target
	Files    int
	Bytes    int64
	Modified time.Time
}

// Resolution is the outcome of applying a strategy.
type Resolution struct {
	Strategy Strategy

	// Run are the targets to schedule, in input order.
	Run []types.Target

	// Skipped are targets dropped because they already had output.
	Skipped []types.Target

	// Replaced are directories removed by StrategyOverwrite.
	Replaced []string
}

// Workspace maps targets to directories under Root.
type Workspace struct {
	Root string

	logger      *logging.Logger
	systemTrash bool
	now         func() time.Time

	mu      sync.RWMutex
	renamed map[types.Target]string
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(w *Workspace) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithSystemTrash moves replaced output to the desktop trash when available
// instead of deleting it.
func WithSystemTrash(enabled bool) Option {
	return func(w *Workspace) {
		w.systemTrash = enabled
	}
}

// New returns a workspace rooted at root. The directory is created lazily.
func New(root string, opts ...Option) (*Workspace, error) {
	if strings.TrimSpace(root) == "" {
		return nil, &types.ConfigurationError{Field: "output.dir", Reason: "must not be empty"}
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve output dir: %w", err)
	}
	w := &Workspace{
		Root:    abs,
		logger:  logging.Get("workspace"),
		now:     time.Now,
		renamed: make(map[types.Target]string),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Dir returns the output directory of a target.
func (w *Workspace) Dir(target types.Target) string {
	w.mu.RLock()
	name, ok := w.renamed[target]
	w.mu.RUnlock()
	if !ok {
		name = target.String()
	}
	return filepath.Join(w.Root, name)
}

// Prepare creates and returns the directory for one tool's output.
func (w *Workspace) Prepare(target types.Target, tool string) (string, error) {
	dir := w.Dir(target)
	if tool != "" {
		dir = filepath.Join(dir, tool)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("prepare output dir for %s: %w", target, err)
	}
	return dir, nil
}

// Inventory walks Root and summarises the files found under each top-level
// directory. A missing root yields an empty inventory.
func (w *Workspace) Inventory(ctx context.Context) (map[types.Target]Entry, error) {
	entries := make(map[types.Target]Entry)
	if _, err := os.Stat(w.Root); errors.Is(err, fs.ErrNotExist) {
		return entries, nil
	} else if err != nil {
		return nil, fmt.Errorf("inventory %s: %w", w.Root, err)
	}

	var mu sync.Mutex
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, w.Root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return fastwalk.ErrSkipFiles
		}
		if err != nil {
			w.logger.Debug("inventory walk error", "path", path, "err", err)
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(w.Root, path)
		if err != nil {
			return nil
		}
		top, _, nested := strings.Cut(filepath.ToSlash(rel), "/")
		if !nested {
			// Files directly under the root do not belong to a target.
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		mu.Lock()
		e := entries[types.Target(top)]
		e.Target = types.Target(top)
		e.Files++
		e.Bytes += info.Size()
		if info.ModTime().After(e.Modified) {
			e.Modified = info.ModTime()
		}
		entries[e.Target] = e
		mu.Unlock()
		return nil
	})
	if err != nil && !errors.Is(err, fastwalk.ErrSkipFiles) {
		return nil, fmt.Errorf("inventory %s: %w", w.Root, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Conflicts returns the targets that already have output, in input order.
func (w *Workspace) Conflicts(ctx context.Context, targets []types.Target) ([]Entry, error) {
	inv, err := w.Inventory(ctx)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, t := range targets {
		if e, ok := inv[t]; ok && e.Files > 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

// Resolve applies the strategy to the conflicting targets. It runs once per
// run, before anything is dispatched.
func (w *Workspace) Resolve(targets []types.Target, conflicts []Entry, s Strategy) (*Resolution, error) {
	res := &Resolution{Strategy: s}
	if len(conflicts) == 0 {
		res.Run = append(res.Run, targets...)
		return res, nil
	}

	conflicting := make(map[types.Target]struct{}, len(conflicts))
	for _, e := range conflicts {
		conflicting[e.Target] = struct{}{}
	}

	switch s {
	case StrategySkip:
		for _, t := range targets {
			if _, ok := conflicting[t]; ok {
				res.Skipped = append(res.Skipped, t)
				continue
			}
			res.Run = append(res.Run, t)
		}
		w.logger.Info("skipping targets with existing output", "count", len(res.Skipped))

	case StrategyOverwrite:
		for _, e := range conflicts {
			dir := w.Dir(e.Target)
			if err := w.remove(dir); err != nil {
				return nil, err
			}
			res.Replaced = append(res.Replaced, dir)
		}
		res.Run = append(res.Run, targets...)
		w.logger.Info("replaced existing output", "count", len(res.Replaced))

	case StrategyTimestamp:
		stamp := w.now().Format(StampLayout)
		w.mu.Lock()
		for _, e := range conflicts {
			w.renamed[e.Target] = e.Target.String() + "_" + stamp
		}
		w.mu.Unlock()
		res.Run = append(res.Run, targets...)
		w.logger.Info("writing to timestamped directories", "count", len(conflicts), "suffix", stamp)

	default:
		return nil, &types.ConfigurationError{
			Field:  "output.on_conflict",
			Reason: fmt.Sprintf("strategy %s cannot be applied without an answer", s),
		}
	}
	return res, nil
}

func (w *Workspace) remove(dir string) error {
	if w.systemTrash {
		return moveToTrash(dir)
	}
	return fallbackDelete(dir)
}
