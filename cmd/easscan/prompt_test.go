package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/easscan/pkg/easscan/tuner"
	"github.com/jamesainslie/easscan/pkg/easscan/types"
	"github.com/jamesainslie/easscan/pkg/easscan/workspace"
)

func testAdvice() tuner.Advice {
	// cpu bound 8, ram bound 8, ceiling 4
	return tuner.Suggest(types.ResourceSnapshot{CoreCount: 9, AvailableRAMGB: 16, CPUPercent: 12, MemPercent: 40}, 4)
}

func TestPrompterWorkers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantOut string
	}{
		{name: "empty answer takes suggestion", input: "\n", want: 4},
		{name: "end of input takes suggestion", input: "", want: 4},
		{name: "accepted value", input: "2\n", want: 2},
		{name: "value without newline", input: "3", want: 3},
		{name: "clamped to hard cap", input: "99\n", want: 4, wantOut: "allowed range 1-4"},
		{name: "zero takes suggestion", input: "0\n", want: 4},
		{name: "retry after non-number", input: "many\n1\n", want: 1, wantOut: `"many" is not a number`},
		{name: "gives up after three attempts", input: "a\nb\nc\n2\n", want: 4, wantOut: "Using the suggested 4 workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := newPrompter(strings.NewReader(tt.input), &out)

			got, err := p.workers(testAdvice())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Suggested workers: 4 (hard cap 4, limited by ceiling)")
			if tt.wantOut != "" {
				assert.Contains(t, out.String(), tt.wantOut)
			}
		})
	}
}

func TestPrompterConflicts(t *testing.T) {
	entries := []workspace.Entry{
		{Target: "a.example", Files: 2, Bytes: 2048, Modified: time.Now().Add(-time.Hour)},
		{Target: "b.example", Files: 1, Bytes: 10, Modified: time.Now()},
	}

	tests := []struct {
		name  string
		input string
		want  workspace.Strategy
	}{
		{name: "default is skip", input: "\n", want: workspace.StrategySkip},
		{name: "end of input is skip", input: "", want: workspace.StrategySkip},
		{name: "overwrite by number", input: "2\n", want: workspace.StrategyOverwrite},
		{name: "timestamp by word", input: "timestamp\n", want: workspace.StrategyTimestamp},
		{name: "retry then overwrite", input: "x\no\n", want: workspace.StrategyOverwrite},
		{name: "invalid answers keep output", input: "x\ny\nz\n2\n", want: workspace.StrategySkip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := newPrompter(strings.NewReader(tt.input), &out)

			got, err := p.conflicts(entries)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "2 targets already have output")
			assert.Contains(t, out.String(), "a.example")
		})
	}
}

func TestPrompterConflicts_ManyEntries(t *testing.T) {
	entries := make([]workspace.Entry, 12)
	for i := range entries {
		entries[i] = workspace.Entry{Target: types.Target("t" + string(rune('a'+i)) + ".example"), Modified: time.Now()}
	}

	var out bytes.Buffer
	_, err := newPrompter(strings.NewReader("1\n"), &out).conflicts(entries)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "... and 2 more")
	assert.NotContains(t, out.String(), "tl.example")
}
