package tui

import (
	"fmt"
	"strings"

	"github.com/jamesainslie/easscan/pkg/easscan/logging"
)

const componentWidth = 10

func logLevelChar(level logging.Level) string {
	switch level {
	case logging.LevelDebug:
		return "D"
	case logging.LevelInfo:
		return "I"
	case logging.LevelWarn:
		return "W"
	case logging.LevelError:
		return "E"
	default:
		return "?"
	}
}

// renderLogPane renders entries oldest first under a title bar.
func renderLogPane(entries []logging.LogEntry, width int) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("  Logs"))
	b.WriteString("\n")
	b.WriteString(renderDivider(width))
	b.WriteString("\n")
	if len(entries) == 0 {
		b.WriteString(mutedTextStyle.Render("  no log entries yet"))
		b.WriteString("\n")
		return b.String()
	}
	for _, e := range entries {
		b.WriteString(renderLogEntry(e, width))
		b.WriteString("\n")
	}
	return b.String()
}

// renderLogEntry renders "HH:MM:SS [L] component: message fields",
// truncated to width.
func renderLogEntry(entry logging.LogEntry, width int) string {
	comp := entry.Component
	if len(comp) > componentWidth {
		comp = comp[:componentWidth]
	}

	// time, level tag and component with their separators
	prefixWidth := 8 + 1 + 3 + 1 + len(comp) + 2
	msgWidth := width - prefixWidth - 2
	if msgWidth < 10 {
		msgWidth = 10
	}
	msg := entry.Message
	if entry.Fields != "" {
		msg += " " + entry.Fields
	}

	return fmt.Sprintf("  %s %s %s: %s",
		logTimeStyle.Render(entry.Time.Format("15:04:05")),
		logLevelStyle(entry.Level).Render("["+logLevelChar(entry.Level)+"]"),
		logComponentStyle.Render(comp),
		truncate(msg, msgWidth))
}
