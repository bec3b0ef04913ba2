package feed

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/prudhvinik1/edgepresence/internal/models"
)

const subscriberBuffer = 32

type subscriber struct {
	ch     chan models.PresenceChange
	filter map[uuid.UUID]struct{}
}

func (s *subscriber) wants(userID uuid.UUID) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[userID]
	return ok
}

// Hub is the in-process subscription registry behind the SSE stream. It is
// owned by the transport and passed to whoever needs it.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers a subscriber for the given users, or for everyone when
// userIDs is empty. The returned cancel func unregisters it and closes the
// channel.
func (h *Hub) Subscribe(userIDs []uuid.UUID) (<-chan models.PresenceChange, func()) {
	filter := make(map[uuid.UUID]struct{}, len(userIDs))
	for _, id := range userIDs {
		filter[id] = struct{}{}
	}
	sub := &subscriber{
		ch:     make(chan models.PresenceChange, subscriberBuffer),
		filter: filter,
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish never blocks: a subscriber whose buffer is full misses the
// notification.
func (h *Hub) Publish(_ context.Context, change models.PresenceChange) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.wants(change.UserID) {
			continue
		}
		select {
		case sub.ch <- change:
		default:
		}
	}
	return nil
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
