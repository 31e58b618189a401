package sink

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hazyhaar/pagesnap/capture/report"
)

// Hub broadcasts events to in-process subscribers, typically websocket
// connections. Slow subscribers lose events instead of blocking a capture.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[chan report.Event]struct{}
	buffer  int
	closed  bool
	dropped atomic.Int64
}

// NewHub creates a Hub whose subscriber channels hold buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[string]map[chan report.Event]struct{}), buffer: buffer}
}

// Subscribe returns a channel receiving the events of sessionID, or of every
// session when sessionID is empty. Call cancel to release it.
func (h *Hub) Subscribe(sessionID string) (<-chan report.Event, func()) {
	ch := make(chan report.Event, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	set := h.subs[sessionID]
	if set == nil {
		set = make(map[chan report.Event]struct{})
		h.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[sessionID][ch]; ok {
			delete(h.subs[sessionID], ch)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			close(ch)
		}
	}
}

// Dropped returns how many events were discarded for full subscribers.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func (h *Hub) Send(_ context.Context, ev report.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliver(h.subs[ev.SessionID], ev)
	if ev.SessionID != "" {
		h.deliver(h.subs[""], ev)
	}
	return nil
}

func (h *Hub) deliver(set map[chan report.Event]struct{}, ev report.Event) {
	for ch := range set {
		select {
		case ch <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subs {
		for ch := range set {
			close(ch)
		}
	}
	h.subs = make(map[string]map[chan report.Event]struct{})
	h.closed = true
	return nil
}
