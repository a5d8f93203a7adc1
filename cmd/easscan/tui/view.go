package tui

import (
	"context"
	"errors"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jamesainslie/easscan/pkg/easscan/guard"
	"github.com/jamesainslie/easscan/pkg/easscan/logging"
	"github.com/jamesainslie/easscan/pkg/easscan/progress"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// eventBuffer bounds the scheduler events queued between redraws.
const eventBuffer = 256

// Options configures a View.
type Options struct {
	RunID     string
	Tool      string
	Total     int
	Confirmed int

	// Updates delivers one update per finished task and is closed when
	// the run ends.
	Updates *progress.Subscription

	// Logs is shown in the log pane; nil hides it.
	Logs *logging.LogBuffer
}

// View is the live progress display. It also observes the scheduler, so
// the header can show the running count and the effective bound.
type View struct {
	opts   Options
	events chan tea.Msg
}

// New creates a view. Nothing is drawn until Run.
func New(opts Options) *View {
	return &View{opts: opts, events: make(chan tea.Msg, eventBuffer)}
}

// post queues msg without blocking the dispatcher. Events are dropped
// while the queue is full; the next one carries the current counts.
func (v *View) post(msg tea.Msg) {
	select {
	case v.events <- msg:
	default:
	}
}

// Dispatched implements scheduler.Observer.
func (v *View) Dispatched(t types.Target, running, bound int) {
	v.post(dispatchedMsg{target: t, running: running, bound: bound})
}

// Finished implements scheduler.Observer.
func (v *View) Finished(_ types.ScanResult, running int) {
	v.post(finishedMsg{running: running})
}

// Decided implements scheduler.Observer.
func (v *View) Decided(d guard.Decision, effective int) {
	v.post(decidedMsg{decision: d, effective: effective})
}

// Run draws the view on stderr until the update stream closes or ctx
// ends. The first interrupt key calls cancel and waits for the run to
// wind down; a second one leaves at once.
func (v *View) Run(ctx context.Context, cancel func()) error {
	m := newModel(v.opts, v.events, cancel)
	p := tea.NewProgram(m,
		tea.WithAltScreen(),
		tea.WithContext(ctx),
		tea.WithOutput(os.Stderr),
	)
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
