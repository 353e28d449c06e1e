package broadcast

import (
	"context"
	"sync"
)

// Hub is an in-process fan-out publisher. Subscribers get a buffered
// channel; a subscriber that falls too far behind has events dropped
// rather than stalling the auction loops.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	// auctionID -> subscriber id -> channel
	subs map[string]map[int]chan Event
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[int]chan Event),
	}
}

// Subscribe registers a viewer for one auction's events. The returned
// cancel func must be called when the viewer disconnects.
func (h *Hub) Subscribe(auctionID string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, 256)
	id := h.nextID
	h.nextID++

	if _, ok := h.subs[auctionID]; !ok {
		h.subs[auctionID] = make(map[int]chan Event)
	}
	h.subs[auctionID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[auctionID]; ok {
			if c, ok := set[id]; ok {
				delete(set, id)
				close(c)
			}
			if len(set) == 0 {
				delete(h.subs, auctionID)
			}
		}
	}
	return ch, cancel
}

// Publish fans the event out to every subscriber of its auction.
// It never blocks: slow subscribers miss events.
func (h *Hub) Publish(_ context.Context, event Event) error {
	stamp(&event)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs[event.AuctionID] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}
