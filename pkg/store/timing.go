// Package store holds the per-chain mutable state shared between the control
// loop and the tools: task start times and base64 placeholders.
package store

import (
	"sync"
	"time"
)

// Timing maps a task URL to the moment it started and tracks which task is
// current. One Timing belongs to one chain.
type Timing struct {
	mu         sync.Mutex
	starts     map[string]time.Time
	submitted  map[string]time.Time
	current    string
	offset     time.Time
	haveOffset bool
}

func NewTiming() *Timing {
	return &Timing{
		starts:    map[string]time.Time{},
		submitted: map[string]time.Time{},
	}
}

// Start records url as the current task. The stall offset is cleared since
// it belongs to the previous task.
func (t *Timing) Start(url string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.starts[url] = at
	t.current = url
	t.offset = time.Time{}
	t.haveOffset = false
}

func (t *Timing) Current() (string, time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == "" {
		return "", time.Time{}, false
	}
	return t.current, t.starts[t.current], true
}

// Elapsed is the time since the current task started.
func (t *Timing) Elapsed(now time.Time) (time.Duration, bool) {
	_, start, ok := t.Current()
	if !ok {
		return 0, false
	}
	return now.Sub(start), true
}

func (t *Timing) MarkSubmitted(url string, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.submitted[url] = at
}

func (t *Timing) LastSubmission(url string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.submitted[url]
	return at, ok
}

// SetOffset records the last observed point of progress for the stall ceiling.
func (t *Timing) SetOffset(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offset = at
	t.haveOffset = true
}

func (t *Timing) Offset() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset, t.haveOffset
}
