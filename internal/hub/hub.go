// Package hub fans out live envelopes to all connected observer sessions.
package hub

import (
	"sync"

	"github.com/gridprobe/gridprobe/internal/model"
)

// DefaultSubscriberBuffer is the per-subscriber channel capacity. A
// subscriber that falls this far behind is disconnected rather than
// allowed to stall the publisher.
const DefaultSubscriberBuffer = 256

// Hub delivers published envelopes to every current subscriber in publish
// order. Delivery is best-effort: there is no replay, and a subscriber
// whose buffer fills up is dropped so the publisher and the remaining
// subscribers are never blocked.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscriber
	nextID uint64
	buffer int
}

// Subscriber is one observer session's handle on the hub.
type Subscriber struct {
	id  uint64
	hub *Hub
	ch  chan model.Envelope

	closeOnce sync.Once
}

// New creates a hub. buffer <= 0 selects DefaultSubscriberBuffer.
func New(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		subs:   make(map[uint64]*Subscriber),
		buffer: buffer,
	}
}

// Subscribe registers a new observer session. The returned subscriber only
// sees envelopes published after this call; callers wanting backfill query
// the history store first and dedup by sequence.
func (h *Hub) Subscribe() *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscriber{
		id:  h.nextID,
		hub: h,
		ch:  make(chan model.Envelope, h.buffer),
	}
	h.subs[sub.id] = sub
	return sub
}

// Publish delivers env to every subscriber. A subscriber with a full
// buffer is removed and its channel closed; that degrades only the slow
// session, which is expected to reconnect and re-query history.
func (h *Hub) Publish(env model.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.subs {
		select {
		case sub.ch <- env:
		default:
			delete(h.subs, id)
			sub.closeOnce.Do(func() { close(sub.ch) })
		}
	}
}

// SubscriberCount returns the number of currently attached sessions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Events is the subscriber's receive channel. It is closed when the
// session is unsubscribed or dropped for falling behind.
func (s *Subscriber) Events() <-chan model.Envelope {
	return s.ch
}

// Close detaches the subscriber and releases its resources. Safe to call
// more than once and after the hub has already dropped the session.
func (s *Subscriber) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	delete(s.hub.subs, s.id)
	s.closeOnce.Do(func() { close(s.ch) })
}
