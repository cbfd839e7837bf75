// Package notifications fans job lifecycle events out to per-user
// subscribers. Delivery is best effort: a subscriber that cannot keep up
// loses events rather than blocking the worker that produced them.
package notifications

import (
	"context"
	"sync"

	"triviaapp/internal/models"
	"triviaapp/internal/observability"
)

// subscriberBuffer is the per-subscriber event backlog. Progress events are
// advisory, so a small buffer is enough.
const subscriberBuffer = 16

// Subscriber is one registered event consumer for a user
type Subscriber struct {
	userID int
	events chan models.JobEvent
}

// Events returns the channel the subscriber receives on. The channel is
// closed on Unsubscribe and on hub shutdown.
func (s *Subscriber) Events() <-chan models.JobEvent {
	return s.events
}

// Hub routes job events to the subscribers of the owning user
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int]map[*Subscriber]struct{}
	closed      bool
	logger      *observability.Logger
}

// NewHub creates an empty notification hub
func NewHub(logger *observability.Logger) *Hub {
	return &Hub{
		subscribers: make(map[int]map[*Subscriber]struct{}),
		logger:      logger,
	}
}

// Subscribe registers a new subscriber for the user's events. Returns nil
// after the hub has shut down.
func (h *Hub) Subscribe(userID int) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}

	sub := &Subscriber{
		userID: userID,
		events: make(chan models.JobEvent, subscriberBuffer),
	}
	if h.subscribers[userID] == nil {
		h.subscribers[userID] = make(map[*Subscriber]struct{})
	}
	h.subscribers[userID][sub] = struct{}{}
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Safe to call
// more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subscribers[sub.userID]
	if !ok {
		return
	}
	if _, registered := set[sub]; !registered {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subscribers, sub.userID)
	}
	close(sub.events)
}

// Publish delivers the event to every subscriber of the user. Subscribers
// with a full buffer are skipped.
func (h *Hub) Publish(ctx context.Context, userID int, event models.JobEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	dropped := 0
	for sub := range h.subscribers[userID] {
		select {
		case sub.events <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Debug(ctx, "Dropped events for slow subscribers", map[string]interface{}{
			"user_id": userID,
			"dropped": dropped,
			"type":    event.Type,
		})
	}
}

// SubscriberCount reports the number of active subscribers for the user
func (h *Hub) SubscriberCount(userID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[userID])
}

// Close shuts the hub down and closes every subscriber channel
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for userID, set := range h.subscribers {
		for sub := range set {
			close(sub.events)
		}
		delete(h.subscribers, userID)
	}
}
