package broadcast

import (
	"context"
	"sync"
)

const subscriberBuffer = 8

// Hub is an in-process Notifier.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan Message
}

var _ Notifier = (*Hub)(nil)

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan Message)}
}

func (h *Hub) NotifyUnlock(_ context.Context, sessionID string) error {
	h.publish(newMessage(ActionUnlock, sessionID))
	return nil
}

func (h *Hub) NotifyLock(_ context.Context, sessionID string) error {
	h.publish(newMessage(ActionLock, sessionID))
	return nil
}

func (h *Hub) NotifySignOut(_ context.Context, sessionID string) error {
	h.publish(newMessage(ActionSignOut, sessionID))
	return nil
}

func (h *Hub) publish(m Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[m.SessionID] {
		select {
		case ch <- m:
		default:
			// slow subscriber, drop
		}
	}
}

func (h *Hub) Subscribe(ctx context.Context, sessionID string) (<-chan Message, func(), error) {
	ch := make(chan Message, subscriberBuffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[int]chan Message)
	}
	h.subs[sessionID][id] = ch
	h.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			h.mu.Lock()
			delete(h.subs[sessionID], id)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}

// Subscribers returns the number of live subscriptions for a session.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}
