package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/easscan/cmd/easscan/tui"
	"github.com/jamesainslie/easscan/pkg/easscan/config"
	"github.com/jamesainslie/easscan/pkg/easscan/executor"
	"github.com/jamesainslie/easscan/pkg/easscan/logging"
	"github.com/jamesainslie/easscan/pkg/easscan/manifest"
	"github.com/jamesainslie/easscan/pkg/easscan/metrics"
	"github.com/jamesainslie/easscan/pkg/easscan/output"
	"github.com/jamesainslie/easscan/pkg/easscan/progress"
	"github.com/jamesainslie/easscan/pkg/easscan/scheduler"
	"github.com/jamesainslie/easscan/pkg/easscan/store"
	"github.com/jamesainslie/easscan/pkg/easscan/targets"
	"github.com/jamesainslie/easscan/pkg/easscan/tuner"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
	"github.com/jamesainslie/easscan/pkg/easscan/workspace"
)

// Skip reasons shown in the report.
const (
	reasonResumed  = "succeeded in an earlier run"
	reasonExisting = "existing output kept"
)

// runEnv holds everything one scan run reads from the process, so tests
// can substitute the terminal, the host and the scan tool.
type runEnv struct {
	cfg         *config.Config
	stdin       io.Reader
	stdout      io.Writer
	stderr      io.Writer
	interactive bool
	color       bool
	quiet       bool

	// explicit holds --target values, each possibly comma-separated.
	explicit []string

	resume     bool
	tui        bool
	noStore    bool
	noManifest bool

	sampler tuner.Sampler

	// invoker overrides the tool command; nil runs the configured profile.
	invoker executor.Invoker

	logger *logging.Logger
	prompt *prompter
}

// prompter returns the shared prompter; one buffered reader serves every
// question of the run.
func (e *runEnv) prompter() *prompter {
	if e.prompt == nil {
		e.prompt = newPrompter(e.stdin, e.stderr)
	}
	return e.prompt
}

// runScan is the root command handler.
func runScan(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && len(explicitTargets) == 0 {
		return cmd.Help()
	}

	term := interactive()
	env := &runEnv{
		cfg:         appConfig,
		stdin:       os.Stdin,
		stdout:      cmd.OutOrStdout(),
		stderr:      cmd.ErrOrStderr(),
		interactive: term && !assumeYes,
		color:       term,
		quiet:       getQuiet(),
		explicit:    explicitTargets,
		resume:      resume,
		tui:         useTUI && term,
		noStore:     noStore,
		noManifest:  noManifest,
		sampler:     tuner.NewHostSampler(tuner.WithSampleTimeout(appConfig.Pool.SampleTimeout)),
		logger:      logging.Get("cli"),
	}
	if useTUI && !term {
		printInfo("--tui needs a terminal; printing status lines instead.")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return env.run(ctx, args)
}

func (e *runEnv) infof(format string, args ...interface{}) {
	if !e.quiet {
		fmt.Fprintf(e.stderr, format+"\n", args...)
	}
}

// run performs one complete scan run. Errors are returned for
// configuration problems only; per-target failures end up in the report.
func (e *runEnv) run(ctx context.Context, files []string) error {
	cfg := e.cfg

	list, err := e.loadTargets(files)
	if err != nil {
		return err
	}
	for _, w := range list.Warnings {
		e.logger.Warn("ignoring target", "line", w.Line, "reason", w.Reason, "text", w.Text)
	}
	if len(list.Targets) == 0 {
		return &types.ConfigurationError{Field: "targets", Reason: "no valid targets"}
	}

	profile, err := cfg.Profile()
	if err != nil {
		return err
	}
	if e.invoker == nil {
		if _, err := profile.Preflight(); err != nil {
			return err
		}
	}
	formatter, err := e.formatter()
	if err != nil {
		return err
	}
	recovery, err := cfg.Recovery()
	if err != nil {
		return err
	}
	strategy, err := cfg.Strategy()
	if err != nil {
		return err
	}

	ws, err := workspace.New(cfg.Output.Dir, workspace.WithSystemTrash(cfg.Output.SystemTrash))
	if err != nil {
		return err
	}

	advice := e.advise(ctx)
	workers, err := e.chooseWorkers(advice)
	if err != nil {
		return err
	}
	pool, err := types.NewPoolConfig(workers, advice.HardCap, cfg.Pool.Timeout, cfg.Thresholds, recovery)
	if err != nil {
		return err
	}

	st, err := e.openStore()
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	skipped := make(map[types.Target]string)
	todo := list.Targets
	if e.resume {
		var done []types.Target
		todo, done, err = st.Pending(todo)
		if err != nil {
			return err
		}
		for _, t := range done {
			skipped[t] = reasonResumed
		}
		if len(done) > 0 {
			e.infof("Resuming: %d %s already succeeded.", len(done), pluralize(len(done), "target", "targets"))
		}
	}

	todo, err = e.resolveConflicts(ctx, ws, todo, strategy, skipped)
	if err != nil {
		return err
	}

	runID := manifest.NewID()
	var outcome *scheduler.Outcome
	if len(todo) > 0 {
		outcome, err = e.schedule(ctx, runID, profile, ws, st, todo, pool)
		if err != nil {
			return err
		}
	} else {
		e.infof("Nothing to scan.")
	}

	report := output.NewReport(runID, profile.Name, list.Targets, outcome, skipped)
	report.Suggested = advice.Suggested
	report.HardCap = advice.HardCap
	if report.Confirmed == 0 {
		report.Confirmed = pool.MaxWorkers
	}
	for _, w := range list.Warnings {
		report.Warnings = append(report.Warnings, w.String())
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, report); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	if _, err := e.stdout.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	if err := e.logManifest(report, advice, pool, outcome); err != nil {
		e.logger.Warn("run history not written", "error", err)
	}

	if report.Interrupted {
		return errInterrupted
	}
	return nil
}

// loadTargets reads every file argument ("-" is stdin) and the --target
// values into one deduplicated list.
func (e *runEnv) loadTargets(files []string) (*targets.List, error) {
	filter, err := targets.NewFilter(
		targets.WithInclude(e.cfg.Targets.Include...),
		targets.WithExclude(e.cfg.Targets.Exclude...),
	)
	if err != nil {
		return nil, err
	}
	opts := targets.Options{StripWWW: e.cfg.Targets.StripWWW, Filter: filter}

	var readers []io.Reader
	for _, path := range files {
		if path == "-" {
			readers = append(readers, e.stdin)
			continue
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open target file: %w", err)
		}
		defer f.Close()
		// Files may lack a trailing newline; keep their last lines apart.
		readers = append(readers, f, bytes.NewReader([]byte("\n")))
	}
	var explicit []string
	for _, t := range e.explicit {
		explicit = append(explicit, parseCommaSeparated(t)...)
	}
	if len(explicit) > 0 {
		readers = append(readers, bytes.NewReader([]byte(joinLines(explicit))))
	}

	list, err := targets.Load(io.MultiReader(readers...), opts)
	if err != nil {
		return nil, err
	}
	if list.Duplicates > 0 || list.Filtered > 0 {
		e.logger.Info("targets loaded", "targets", len(list.Targets), "duplicates", list.Duplicates, "filtered", list.Filtered)
	}
	return list, nil
}

func joinLines(lines []string) string {
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return b.String()
}

func (e *runEnv) formatter() (output.Formatter, error) {
	if e.cfg.Output.Format == "template" && e.cfg.Output.Template != "" {
		return output.NewTemplateFormatter(e.cfg.Output.Template), nil
	}
	return output.Get(e.cfg.Output.Format)
}

// advise samples the host once. A failed reading is treated as a host
// with no spare memory, which yields a single worker.
func (e *runEnv) advise(ctx context.Context) tuner.Advice {
	snap, err := e.sampler.Sample(ctx)
	if err != nil {
		e.logger.Warn("host sampling failed, suggesting one worker", "error", err)
		snap = types.ResourceSnapshot{CoreCount: runtime.NumCPU()}
	}
	advice := tuner.Suggest(snap, e.cfg.Workers.Ceiling)
	e.logger.Info("worker advice", "suggested", advice.Suggested, "hard_cap", advice.HardCap,
		"limited_by", advice.Limiter(), "snapshot", snap.String())
	return advice
}

// chooseWorkers takes a configured count, asks the operator, or takes the
// suggestion, in that order.
func (e *runEnv) chooseWorkers(advice tuner.Advice) (int, error) {
	if n := e.cfg.Workers.Count; n > 0 {
		accepted := advice.Accept(n)
		if accepted != n {
			e.infof("Requested %d workers; the hard cap is %d.", n, advice.HardCap)
		}
		return accepted, nil
	}
	if e.interactive {
		return e.prompter().workers(advice)
	}
	return advice.Suggested, nil
}

func (e *runEnv) openStore() (*store.Store, error) {
	if !e.cfg.Store.Enabled || e.noStore {
		if e.resume {
			return nil, &types.ConfigurationError{Field: "store.enabled", Reason: "--resume needs the result store"}
		}
		return nil, nil
	}
	st, err := store.Open(e.cfg.Store.Path)
	if errors.Is(err, store.ErrLocked) && !e.resume {
		// Another run owns the store; results of this one are not kept.
		e.logger.Warn("result store unavailable", "error", err)
		e.infof("Result store in use by another run; results will not be stored.")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening result store: %w", err)
	}
	return st, nil
}

// resolveConflicts applies the output conflict strategy before any
// dispatch. A prompt strategy asks once, or keeps existing output when
// nobody can answer.
func (e *runEnv) resolveConflicts(ctx context.Context, ws *workspace.Workspace, todo []types.Target, strategy workspace.Strategy, skipped map[types.Target]string) ([]types.Target, error) {
	conflicts, err := ws.Conflicts(ctx, todo)
	if err != nil {
		return nil, err
	}
	if len(conflicts) == 0 {
		return todo, nil
	}

	if strategy == workspace.StrategyPrompt {
		if e.interactive {
			strategy, err = e.prompter().conflicts(conflicts)
			if err != nil {
				return nil, err
			}
		} else {
			strategy = workspace.StrategySkip
			e.infof("%d %s with existing output skipped (set output.on_conflict to change).",
				len(conflicts), pluralize(len(conflicts), "target", "targets"))
		}
	}

	res, err := ws.Resolve(todo, conflicts, strategy)
	if err != nil {
		return nil, err
	}
	for _, t := range res.Skipped {
		skipped[t] = reasonExisting
	}
	return res.Run, nil
}

// schedule runs the scheduler alongside the optional progress view and
// metrics listener.
func (e *runEnv) schedule(ctx context.Context, runID string, profile executor.Profile, ws *workspace.Workspace, st *store.Store, todo []types.Target, pool types.PoolConfig) (*scheduler.Outcome, error) {
	invoker := e.invoker
	if invoker == nil {
		cmd, err := executor.NewCommand(profile, ws)
		if err != nil {
			return nil, err
		}
		invoker = cmd
	}

	var sinks []progress.Sink
	if !e.tui && !e.quiet {
		sinks = append(sinks, progress.NewLineSink(e.stderr, e.color))
	}
	if st != nil {
		sinks = append(sinks, st.Recorder(runID, profile.Name, func(t types.Target, err error) {
			e.logger.Warn("result not stored", "target", t, "error", err)
		}))
	}
	reporter := progress.New(len(todo), sinks...)

	observers := scheduler.Observers{}
	var collector *metrics.Collector
	if e.cfg.Metrics.Addr != "" {
		collector = metrics.New()
		observers = append(observers, collector)
	}
	var view *tui.View
	if e.tui {
		view = tui.New(tui.Options{
			RunID:     runID,
			Tool:      profile.Name,
			Total:     len(todo),
			Confirmed: pool.MaxWorkers,
			Updates:   reporter.Subscribe(len(todo)),
			Logs:      logging.GetLogBuffer(),
		})
		observers = append(observers, view)
	}

	sched := scheduler.New(scheduler.Options{
		Invoker:      invoker,
		Sampler:      e.sampler,
		Reporter:     reporter,
		Observer:     observers,
		DispatchRate: e.cfg.Pool.DispatchRate,
	})

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	var outcome *scheduler.Outcome
	g.Go(func() error {
		defer cancelRun()
		defer reporter.Close()
		var err error
		outcome, err = sched.Run(runCtx, todo, pool)
		return err
	})
	if view != nil {
		g.Go(func() error {
			return view.Run(runCtx, cancelRun)
		})
	}
	if collector != nil {
		e.infof("Serving metrics on http://%s/metrics", e.cfg.Metrics.Addr)
		g.Go(func() error {
			if err := collector.Serve(runCtx, e.cfg.Metrics.Addr); err != nil {
				// The run goes on without a listener.
				e.logger.Warn("metrics listener stopped", "addr", e.cfg.Metrics.Addr, "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcome, nil
}

func (e *runEnv) logManifest(report *output.Report, advice tuner.Advice, pool types.PoolConfig, outcome *scheduler.Outcome) error {
	if !e.cfg.Manifest.Enabled || e.noManifest {
		return nil
	}
	m, err := manifest.New(e.cfg.Manifest.Path)
	if err != nil {
		return err
	}

	var results []types.ScanResult
	if outcome != nil {
		results = outcome.Results
	}
	records := manifest.Records(results)
	summary := manifest.Summarize(records, report.Stats.Skipped)
	summary.Elapsed = report.Duration
	summary.PeakRunning = report.PeakRunning
	summary.Throttles = report.Throttles
	summary.Interrupted = report.Interrupted

	_, err = m.Log(&manifest.Entry{
		ID:   report.RunID,
		Tool: report.Tool,
		Pool: manifest.Pool{
			Suggested:  advice.Suggested,
			HardCap:    advice.HardCap,
			MaxWorkers: pool.MaxWorkers,
			Timeout:    pool.PerTaskTimeout,
			Thresholds: pool.Thresholds,
			Recovery:   pool.Recovery.String(),
		},
		Records: records,
		Summary: summary,
	})
	return err
}
