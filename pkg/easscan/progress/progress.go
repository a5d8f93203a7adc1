// Package progress counts terminal scan tasks and fans each completion out
// to sinks and subscribers.
package progress

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jamesainslie/easscan/pkg/easscan/types"
)

// Update describes one completion.
type Update struct {
	Result    types.ScanResult
	Completed int
	Total     int
}

// Percent returns the completion percentage of the run.
func (u Update) Percent() float64 {
	if u.Total <= 0 {
		return 100
	}
	return float64(u.Completed) * 100 / float64(u.Total)
}

// Done reports whether this update completed the run.
func (u Update) Done() bool {
	return u.Completed >= u.Total
}

// Sink receives updates synchronously. Sinks are called from worker
// goroutines and must be safe for concurrent use.
type Sink interface {
	Emit(u Update)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(u Update)

// Emit calls f(u).
func (f SinkFunc) Emit(u Update) {
	f(u)
}

// Subscription receives updates on a buffered channel. Updates are
// dropped when the buffer is full.
type Subscription struct {
	ID      string
	Updates chan Update
}

// Reporter is the run-scoped completion counter.
type Reporter struct {
	total     int
	completed atomic.Int64
	byState   [types.StateCancelled + 1]atomic.Int64
	seen      sync.Map

	sinks []Sink

	mu     sync.RWMutex
	subs   map[string]*Subscription
	closed bool
}

// New returns a reporter for a run of total tasks.
func New(total int, sinks ...Sink) *Reporter {
	r := &Reporter{
		total: total,
		subs:  make(map[string]*Subscription),
	}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// OnTaskTerminal records a terminal result. Each target is counted once;
// repeated or non-terminal results are ignored and return false.
func (r *Reporter) OnTaskTerminal(res types.ScanResult) bool {
	if !res.State.Terminal() {
		return false
	}
	if _, dup := r.seen.LoadOrStore(res.Target, struct{}{}); dup {
		return false
	}

	r.byState[res.State].Add(1)
	u := Update{
		Result:    res,
		Completed: int(r.completed.Add(1)),
		Total:     r.total,
	}

	for _, s := range r.sinks {
		s.Emit(u)
	}
	r.notify(u)
	return true
}

func (r *Reporter) notify(u Update) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}
	for _, sub := range r.subs {
		select {
		case sub.Updates <- u:
		default:
		}
	}
}

// Subscribe returns a subscription with the given buffer size. A buffer
// of at least Total never drops an update. Returns nil after Close.
func (r *Reporter) Subscribe(buffer int) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	sub := &Subscription{
		ID:      uuid.New().String(),
		Updates: make(chan Update, max(buffer, 1)),
	}
	r.subs[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (r *Reporter) Unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.subs[id]; ok {
		close(sub.Updates)
		delete(r.subs, id)
	}
}

// Close closes every subscription. Later completions still reach sinks.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	for _, sub := range r.subs {
		close(sub.Updates)
	}
	r.subs = make(map[string]*Subscription)
}

// Total returns the number of tasks in the run.
func (r *Reporter) Total() int {
	return r.total
}

// Completed returns the number of terminal tasks seen so far.
func (r *Reporter) Completed() int {
	return int(r.completed.Load())
}

// Count returns the number of terminal tasks in state s.
func (r *Reporter) Count(s types.TaskState) int {
	if s < 0 || int(s) >= len(r.byState) {
		return 0
	}
	return int(r.byState[s].Load())
}
