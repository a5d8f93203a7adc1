package progress

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

func result(target string, state types.TaskState) types.ScanResult {
	return types.ScanResult{Target: types.Target(target), State: state, Duration: 1200 * time.Millisecond}
}

func TestReporter_CountsConcurrently(t *testing.T) {
	t.Parallel()

	const total = 200

	var mu sync.Mutex
	var seen []int
	sink := SinkFunc(func(u Update) {
		mu.Lock()
		seen = append(seen, u.Completed)
		mu.Unlock()
	})

	r := New(total, sink)

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.OnTaskTerminal(result(fmt.Sprintf("host%d.example.com", i), types.StateSucceeded))
		}()
	}
	wg.Wait()

	assert.Equal(t, total, r.Completed())
	assert.Equal(t, total, r.Count(types.StateSucceeded))
	require.Len(t, seen, total)

	// Every counter value is emitted exactly once, in any order.
	values := make(map[int]bool, total)
	for _, c := range seen {
		assert.False(t, values[c], "counter %d emitted twice", c)
		values[c] = true
	}
	assert.True(t, values[1])
	assert.True(t, values[total])
}

func TestReporter_IgnoresDuplicatesAndNonTerminal(t *testing.T) {
	t.Parallel()

	r := New(2)

	assert.True(t, r.OnTaskTerminal(result("a.example", types.StateFailed)))
	assert.False(t, r.OnTaskTerminal(result("a.example", types.StateFailed)), "duplicate")
	assert.False(t, r.OnTaskTerminal(result("b.example", types.StateRunning)), "not terminal")

	assert.Equal(t, 1, r.Completed())
	assert.Equal(t, 1, r.Count(types.StateFailed))
	assert.Zero(t, r.Count(types.TaskState(99)))
}

func TestReporter_Subscribe(t *testing.T) {
	t.Parallel()

	r := New(2)
	sub := r.Subscribe(2)
	require.NotNil(t, sub)
	assert.NotEmpty(t, sub.ID)

	r.OnTaskTerminal(result("a.example", types.StateSucceeded))
	r.OnTaskTerminal(result("b.example", types.StateTimedOut))

	first := <-sub.Updates
	second := <-sub.Updates
	assert.Equal(t, 1, first.Completed)
	assert.Equal(t, 2, second.Completed)
	assert.True(t, second.Done())
	assert.InDelta(t, 100.0, second.Percent(), 0.001)

	r.Close()
	_, open := <-sub.Updates
	assert.False(t, open)
	assert.Nil(t, r.Subscribe(1))

	// Sinks keep working after Close.
	assert.True(t, r.OnTaskTerminal(result("c.example", types.StateSucceeded)))
}

func TestReporter_Unsubscribe(t *testing.T) {
	t.Parallel()

	r := New(1)
	sub := r.Subscribe(1)
	r.Unsubscribe(sub.ID)

	_, open := <-sub.Updates
	assert.False(t, open)

	// No panic sending after unsubscribe.
	r.OnTaskTerminal(result("a.example", types.StateSucceeded))
}

func TestReporter_SlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	r := New(3)
	sub := r.Subscribe(1)

	for _, host := range []string{"a", "b", "c"} {
		r.OnTaskTerminal(result(host, types.StateSucceeded))
	}

	assert.Len(t, sub.Updates, 1)
	assert.Equal(t, 3, r.Completed())
}

func TestFormatLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  types.ScanResult
		want string
	}{
		{
			name: "success",
			res:  result("example.com", types.StateSucceeded),
			want: "[3/5  60.0%] ok      example.com  1.2s",
		},
		{
			name: "failure with diagnostic",
			res: types.ScanResult{
				Target: "bad.example", State: types.StateFailed,
				Duration: 400 * time.Millisecond, Diagnostic: "exit 1: connection refused",
			},
			want: "[3/5  60.0%] fail    bad.example  400ms  exit 1: connection refused",
		},
		{
			name: "timeout",
			res:  types.ScanResult{Target: "slow.example", State: types.StateTimedOut, Duration: 2 * time.Second},
			want: "[3/5  60.0%] timeout slow.example  2.0s",
		},
		{
			name: "cancelled before dispatch",
			res:  types.ScanResult{Target: "late.example", State: types.StateCancelled},
			want: "[3/5  60.0%] cancel  late.example  0s",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := FormatLine(Update{Result: tt.res, Completed: 3, Total: 5}, false)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLineSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := New(2, NewLineSink(&buf, false))

	r.OnTaskTerminal(result("a.example", types.StateSucceeded))
	r.OnTaskTerminal(result("b.example", types.StateFailed))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "[1/2  50.0%] ok"))
	assert.True(t, strings.HasPrefix(lines[1], "[2/2 100.0%] fail"))
}
