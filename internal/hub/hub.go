// Package hub fans room updates out to subscribed push channels. The hub
// moves opaque payloads; composing them is the server's job.
package hub

import (
	"sync"
)

// sendBuffer is the per-subscriber queue depth. A subscriber that cannot
// drain this many payloads is considered dead.
const sendBuffer = 64

// Subscriber is one open push channel for a room.
type Subscriber struct {
	ch chan []byte
}

// C returns the channel the subscriber's payloads arrive on. It is closed
// when the subscriber is dropped.
func (s *Subscriber) C() <-chan []byte { return s.ch }

// Hub is the registry mapping room IDs to their subscribers.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*Subscriber]struct{}
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{rooms: make(map[string]map[*Subscriber]struct{})}
}

// Subscribe registers a new push channel for a room. The initial payload is
// queued as the channel's first message so a newly-connecting client sees
// the current state without waiting for the next mutation.
func (h *Hub) Subscribe(roomID string, initial []byte) *Subscriber {
	sub := &Subscriber{ch: make(chan []byte, sendBuffer)}
	sub.ch <- initial

	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[roomID]
	if !ok {
		subs = make(map[*Subscriber]struct{})
		h.rooms[roomID] = subs
	}
	subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscriber; when a room has no subscribers left its
// entry is dropped. The room itself is not touched.
func (h *Hub) Unsubscribe(roomID string, sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if _, registered := subs[sub]; !registered {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.rooms, roomID)
	}
}

// Publish queues payload on every subscriber of the room. A subscriber
// whose buffer will not accept the write is dropped as a side effect.
func (h *Hub) Publish(roomID string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.rooms[roomID]
	if !ok {
		return
	}
	for sub := range subs {
		select {
		case sub.ch <- payload:
		default:
			delete(subs, sub)
			close(sub.ch)
		}
	}
	if len(subs) == 0 {
		delete(h.rooms, roomID)
	}
}

// Subscribers reports how many push channels a room currently has.
func (h *Hub) Subscribers(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}
