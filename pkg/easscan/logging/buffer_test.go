package logging

import (
	"fmt"
	"testing"
	"time"
)

func entry(msg string) LogEntry {
	return LogEntry{Time: time.Now(), Level: LevelInfo, Component: "test", Message: msg}
}

func messages(entries []LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func TestLogBuffer(t *testing.T) {
	tests := []struct {
		name string
		size int
		add  int
		last int
		want []string
		all  []string
	}{
		{name: "partial", size: 3, add: 2, last: 5, want: []string{"m0", "m1"}, all: []string{"m0", "m1"}},
		{name: "full", size: 3, add: 3, last: 2, want: []string{"m1", "m2"}, all: []string{"m0", "m1", "m2"}},
		{name: "overflow", size: 3, add: 5, last: 3, want: []string{"m2", "m3", "m4"}, all: []string{"m2", "m3", "m4"}},
		{name: "zero size uses default", size: 0, add: 1, last: 1, want: []string{"m0"}, all: []string{"m0"}},
		{name: "negative last", size: 2, add: 2, last: -1, want: []string{}, all: []string{"m0", "m1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := NewLogBuffer(tt.size)
			for i := 0; i < tt.add; i++ {
				buf.Add(entry(fmt.Sprintf("m%d", i)))
			}
			if got := fmt.Sprint(messages(buf.Last(tt.last))); got != fmt.Sprint(tt.want) {
				t.Errorf("Last(%d) = %v, want %v", tt.last, got, tt.want)
			}
			if got := fmt.Sprint(messages(buf.Entries())); got != fmt.Sprint(tt.all) {
				t.Errorf("Entries() = %v, want %v", got, tt.all)
			}
			if buf.Len() != len(tt.all) {
				t.Errorf("Len() = %d, want %d", buf.Len(), len(tt.all))
			}
		})
	}
}

func TestLogBuffer_Clear(t *testing.T) {
	buf := NewLogBuffer(2)
	buf.Add(entry("a"))
	buf.Add(entry("b"))
	buf.Add(entry("c"))
	buf.Clear()

	if buf.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", buf.Len())
	}
	buf.Add(entry("d"))
	if got := messages(buf.Entries()); len(got) != 1 || got[0] != "d" {
		t.Errorf("Entries() after Clear+Add = %v, want [d]", got)
	}
}
