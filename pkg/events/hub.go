// Package events fans chain progress out to live subscribers (the websocket
// stream). Publishing never blocks the chain: slow subscribers lose events.
package events

import (
	"sync"
	"time"
)

const subscriberBuffer = 64

type Event struct {
	Chain  string         `json:"chain"`
	Type   string         `json:"type"`
	Task   string         `json:"task,omitempty"`
	Time   time.Time      `json:"time"`
	Detail map[string]any `json:"detail,omitempty"`
}

const (
	TaskStarted   = "task_started"
	TaskFinished  = "task_finished"
	LoopStep      = "loop_step"
	ChainFinished = "chain_finished"
	ChainFailed   = "chain_failed"
)

// Terminal reports whether no more events follow e for its chain.
func (e Event) Terminal() bool {
	return e.Type == ChainFinished || e.Type == ChainFailed
}

type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: map[string]map[chan Event]struct{}{}}
}

// Subscribe returns a channel of events for chain and a cancel func that
// must be called to release it.
func (h *Hub) Subscribe(chain string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	if h.subs[chain] == nil {
		h.subs[chain] = map[chan Event]struct{}{}
	}
	h.subs[chain][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[chain]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(h.subs, chain)
				}
			}
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[e.Chain] {
		select {
		case ch <- e:
		default:
		}
	}
}
