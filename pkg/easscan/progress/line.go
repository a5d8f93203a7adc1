package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	timeoutStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
)

// LineSink writes one status line per completion:
//
//	[3/5  60.0%] ok      example.com  1.2s
//	[4/5  80.0%] fail    bad.example  0.4s  exit 1: connection refused
type LineSink struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

// NewLineSink returns a sink writing to w. Colors are applied when color
// is true.
func NewLineSink(w io.Writer, color bool) *LineSink {
	return &LineSink{w: w, color: color}
}

// Emit implements Sink.
func (s *LineSink) Emit(u Update) {
	line := FormatLine(u, s.color)

	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w, line)
}

// FormatLine renders the status line for an update.
func FormatLine(u Update, color bool) string {
	res := u.Result
	label, style := statusLabel(res.State)

	counter := fmt.Sprintf("[%d/%d %5.1f%%]", u.Completed, u.Total, u.Percent())
	status := fmt.Sprintf("%-7s", label)
	if color {
		counter = mutedStyle.Render(counter)
		status = style.Render(status)
	}

	line := fmt.Sprintf("%s %s %s  %s", counter, status, res.Target, types.FormatDuration(res.Duration))
	if res.State != types.StateSucceeded && res.Diagnostic != "" {
		diag := res.Diagnostic
		if color {
			diag = mutedStyle.Render(diag)
		}
		line += "  " + diag
	}
	return line
}

func statusLabel(s types.TaskState) (string, lipgloss.Style) {
	switch s {
	case types.StateSucceeded:
		return "ok", okStyle
	case types.StateTimedOut:
		return "timeout", timeoutStyle
	case types.StateCancelled:
		return "cancel", mutedStyle
	default:
		return "fail", failStyle
	}
}
