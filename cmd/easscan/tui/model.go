package tui

import (
	"fmt"
	"strings"
	"time"

	progressbar "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/easscan/pkg/easscan/guard"
	"github.com/jamesainslie/easscan/pkg/easscan/progress"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

const (
	tickInterval = 250 * time.Millisecond
	recentRows   = 6
	logRows      = 8
)

type (
	updateMsg        progress.Update
	updatesClosedMsg struct{}
	tickMsg          time.Time

	dispatchedMsg struct {
		target  types.Target
		running int
		bound   int
	}
	finishedMsg struct{ running int }
	decidedMsg  struct {
		decision  guard.Decision
		effective int
	}
)

type model struct {
	opts    Options
	updates <-chan progress.Update
	events  <-chan tea.Msg
	cancel  func()

	spinner spinner.Model
	bar     progressbar.Model
	start   time.Time
	width   int
	height  int

	completed int
	counts    map[types.TaskState]int
	running   int
	bound     int
	last      types.Target
	decision  guard.Decision
	recent    []types.ScanResult

	showLogs bool
	stopping bool
	done     bool
}

func newModel(opts Options, events <-chan tea.Msg, cancel func()) model {
	s := spinner.New()
	s.Spinner = spinner.Points
	s.Style = lipgloss.NewStyle().Foreground(primaryColor)

	var updates <-chan progress.Update
	if opts.Updates != nil {
		updates = opts.Updates.Updates
	}
	if cancel == nil {
		cancel = func() {}
	}

	return model{
		opts:     opts,
		updates:  updates,
		events:   events,
		cancel:   cancel,
		spinner:  s,
		bar:      progressbar.New(progressbar.WithGradient(string(primaryColor), string(accentColor))),
		start:    time.Now(),
		width:    80,
		height:   24,
		counts:   make(map[types.TaskState]int),
		bound:    opts.Confirmed,
		showLogs: opts.Logs != nil,
	}
}

func waitForUpdate(ch <-chan progress.Update) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		u, ok := <-ch
		if !ok {
			return updatesClosedMsg{}
		}
		return updateMsg(u)
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForUpdate(m.updates), tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.stopping {
				return m, tea.Quit
			}
			m.stopping = true
			m.cancel()
		case "l":
			if m.opts.Logs != nil {
				m.showLogs = !m.showLogs
			}
		}
		return m, nil

	case updateMsg:
		u := progress.Update(msg)
		m.completed = u.Completed
		m.counts[u.Result.State]++
		m.recent = append(m.recent, u.Result)
		if len(m.recent) > recentRows {
			m.recent = m.recent[len(m.recent)-recentRows:]
		}
		return m, waitForUpdate(m.updates)

	case updatesClosedMsg:
		m.done = true
		return m, tea.Quit

	case tickMsg:
		m = m.drainEvents()
		return m, tick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// drainEvents applies every queued scheduler event.
func (m model) drainEvents() model {
	for {
		select {
		case ev := <-m.events:
			m = m.apply(ev)
		default:
			return m
		}
	}
}

func (m model) apply(ev tea.Msg) model {
	switch ev := ev.(type) {
	case dispatchedMsg:
		m.running = ev.running
		m.bound = ev.bound
		m.last = ev.target
	case finishedMsg:
		m.running = ev.running
	case decidedMsg:
		m.bound = ev.effective
		m.decision = ev.decision
	}
	return m
}

func (m model) percent() float64 {
	if m.opts.Total <= 0 {
		return 1
	}
	return float64(m.completed) / float64(m.opts.Total)
}

func (m model) View() string {
	contentWidth := m.width - 4
	if contentWidth < 40 {
		contentWidth = 40
	}

	var b strings.Builder
	b.WriteString(m.renderHeader(contentWidth))
	b.WriteString("\n")
	b.WriteString(renderDivider(contentWidth))
	b.WriteString("\n\n")

	b.WriteString(m.renderStatus(contentWidth))
	b.WriteString("\n\n")

	m.bar.Width = contentWidth - 16
	fmt.Fprintf(&b, "  %s  %s/%s\n\n",
		m.bar.ViewAs(m.percent()),
		humanize.Comma(int64(m.completed)), humanize.Comma(int64(m.opts.Total)))

	b.WriteString(m.renderStats(contentWidth))
	b.WriteString("\n")

	if len(m.recent) > 0 {
		b.WriteString(titleStyle.Render("  Recent"))
		b.WriteString("\n")
		for i := len(m.recent) - 1; i >= 0; i-- {
			b.WriteString(renderResult(m.recent[i], contentWidth))
			b.WriteString("\n")
		}
	}

	if m.showLogs && m.opts.Logs != nil {
		b.WriteString("\n")
		b.WriteString(renderLogPane(m.opts.Logs.Last(logRows), contentWidth))
	}

	b.WriteString("\n")
	b.WriteString(m.renderKeys())

	return outerBoxStyle.Width(m.width - 2).Render(b.String())
}

func (m model) renderHeader(width int) string {
	title := titleStyle.Render("easscan") + mutedTextStyle.Render(" · "+m.opts.Tool)
	if m.opts.RunID != "" {
		title += mutedTextStyle.Render(" · run " + m.opts.RunID)
	}
	elapsed := mutedTextStyle.Render(formatDuration(time.Since(m.start)))

	spacing := width - lipgloss.Width(title) - lipgloss.Width(elapsed)
	if spacing < 1 {
		spacing = 1
	}
	return title + strings.Repeat(" ", spacing) + elapsed
}

func (m model) renderStatus(width int) string {
	switch {
	case m.done:
		return successTextStyle.Render("  Run complete")
	case m.stopping:
		return warningTextStyle.Render(fmt.Sprintf("  %s Stopping: waiting for %d running %s",
			m.spinner.View(), m.running, plural(m.running, "task", "tasks")))
	}

	line := fmt.Sprintf("  %s Running %d of %d", m.spinner.View(), m.running, m.bound)
	if m.last != "" {
		line += mutedTextStyle.Render(" · last dispatched ") + targetStyle.Render(truncate(m.last.String(), width/3))
	}
	if m.decision.Overloaded() {
		reason := m.decision.Verdict.String()
		if len(m.decision.Reasons) > 0 {
			reason += ": " + strings.Join(m.decision.Reasons, ", ")
		}
		line += "\n  " + warningTextStyle.Render(truncate("Throttled ("+reason+")", width-2))
	}
	return line
}

func (m model) renderStats(totalWidth int) string {
	boxWidth := (totalWidth - 12) / 5
	if boxWidth < 10 {
		boxWidth = 10
	}
	boxes := []string{
		renderStatBox("Succeeded", m.counts[types.StateSucceeded], boxWidth),
		renderStatBox("Failed", m.counts[types.StateFailed], boxWidth),
		renderStatBox("Timed out", m.counts[types.StateTimedOut], boxWidth),
		renderStatBox("Cancelled", m.counts[types.StateCancelled], boxWidth),
		renderStatBox("Pending", m.opts.Total-m.completed-m.running, boxWidth),
	}
	parts := []string{"  "}
	for i, box := range boxes {
		if i > 0 {
			parts = append(parts, " ")
		}
		parts = append(parts, box)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func renderStatBox(label string, value, width int) string {
	if value < 0 {
		value = 0
	}
	content := lipgloss.JoinVertical(lipgloss.Center,
		center(statsLabelStyle.Render(label), width-4),
		center(statsValueStyle.Render(humanize.Comma(int64(value))), width-4))
	return statsBoxStyle.Width(width).Render(content)
}

func renderResult(res types.ScanResult, width int) string {
	state := stateStyle(res.State).Render(fmt.Sprintf("%-9s", res.State.String()))
	line := fmt.Sprintf("  %s %s %s", state,
		targetStyle.Render(truncate(res.Target.String(), width/2)),
		mutedTextStyle.Render(formatDuration(res.Duration)))
	if res.Diagnostic != "" && res.State != types.StateSucceeded {
		line += " " + mutedTextStyle.Render(truncate(res.Diagnostic, width/3))
	}
	return line
}

func (m model) renderKeys() string {
	hints := []string{keyStyle.Render("q") + keyDescStyle.Render(" stop")}
	if m.stopping {
		hints[0] = keyStyle.Render("q") + keyDescStyle.Render(" quit now")
	}
	if m.opts.Logs != nil {
		hints = append(hints, keyStyle.Render("l")+keyDescStyle.Render(" logs"))
	}
	return "  " + strings.Join(hints, "  ")
}

// formatDuration formats d as M:SS.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", d/time.Minute, (d%time.Minute)/time.Second)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
