// Package events delivers tracker change notifications to in-process subscribers.
package events

import (
	"sync"

	log "github.com/go-pkgz/lgr"

	"github.com/umputun/jobtrack/app/tracker"
)

// Hub fans out change events to subscribers. Each subscriber gets a buffered channel,
// events are dropped for subscribers not keeping up, Notify never blocks.
type Hub struct {
	buffer int

	mu     sync.RWMutex
	subs   map[int]chan tracker.Event
	nextID int
	closed bool
}

// NewHub makes a hub with the given per-subscriber buffer size
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{buffer: buffer, subs: map[int]chan tracker.Event{}}
}

// Notify sends the event to all current subscribers
func (h *Hub) Notify(ev tracker.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("[WARN] subscriber %d is not keeping up, event for %s dropped", id, ev.JobID)
		}
	}
}

// Subscribe registers a new subscriber. The returned func unsubscribes and closes the channel,
// it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan tracker.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan tracker.Event, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	log.Printf("[DEBUG] subscriber %d added, total %d", id, len(h.subs))

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
			log.Printf("[DEBUG] subscriber %d removed, total %d", id, len(h.subs))
		}
	}
}

// Subscribers returns the number of active subscribers
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes all subscriber channels, later subscriptions get a closed channel
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
	h.closed = true
}

// Multi combines several notifiers into one, nil entries are skipped
type Multi []tracker.Notifier

// Notify passes the event to every notifier in order
func (m Multi) Notify(ev tracker.Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ev)
		}
	}
}
