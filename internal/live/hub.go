// Package live fans window queue snapshots out to connected displays.
package live

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"qms/window-queue/internal/models"

	"github.com/google/uuid"
)

// Change is what the engine publishes after a mutation: the event that
// caused it, the ticket it touched and the recomputed window view.
type Change struct {
	Event  string                 `json:"event"`
	Ticket models.Ticket          `json:"ticket"`
	View   models.WindowQueueView `json:"view"`
}

// Subscription receives full snapshots of one window. The mailbox holds a
// single view; a newer snapshot replaces one the reader has not taken yet.
type Subscription struct {
	ID       string
	WindowID string

	mailbox chan models.WindowQueueView
	hub     *Hub
	once    sync.Once
}

// C is closed when the subscription or the hub is closed.
func (s *Subscription) C() <-chan models.WindowQueueView {
	return s.mailbox
}

func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Offer delivers view without blocking.
func (s *Subscription) Offer(view models.WindowQueueView) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if _, ok := s.hub.windows[s.WindowID][s.ID]; !ok {
		return
	}
	s.hub.advance(s.WindowID, view.GeneratedAt)
	s.offer(view)
}

func (s *Subscription) offer(view models.WindowQueueView) {
	for {
		select {
		case s.mailbox <- view:
			return
		default:
		}
		select {
		case <-s.mailbox:
		default:
		}
	}
}

type Hub struct {
	mu      sync.RWMutex
	windows map[string]map[string]*Subscription
	// latest is the newest view time handed out per window. Views relayed
	// from other replicas can arrive after a fresher local one.
	latest map[string]time.Time
	closed bool
}

func New() *Hub {
	return &Hub{
		windows: make(map[string]map[string]*Subscription),
		latest:  make(map[string]time.Time),
	}
}

// advance records generatedAt for the window and reports false when the
// view is older than one already delivered. Callers hold mu for writing.
func (h *Hub) advance(windowID string, generatedAt time.Time) bool {
	if generatedAt.Before(h.latest[windowID]) {
		return false
	}
	h.latest[windowID] = generatedAt
	return true
}

func (h *Hub) Subscribe(windowID string) *Subscription {
	sub := &Subscription{
		ID:       uuid.NewString(),
		WindowID: windowID,
		mailbox:  make(chan models.WindowQueueView, 1),
		hub:      h,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.mailbox)
		sub.once.Do(func() {})
		return sub
	}
	subs, ok := h.windows[windowID]
	if !ok {
		subs = make(map[string]*Subscription)
		h.windows[windowID] = subs
	}
	subs[sub.ID] = sub
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub.once.Do(func() {
		if subs, ok := h.windows[sub.WindowID]; ok {
			delete(subs, sub.ID)
			if len(subs) == 0 {
				delete(h.windows, sub.WindowID)
			}
		}
		close(sub.mailbox)
	})
}

// Publish hands the view to every subscriber of its window. It never blocks
// on a slow reader and drops views older than the last one delivered.
func (h *Hub) Publish(ctx context.Context, change Change) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.advance(change.View.WindowID, change.View.GeneratedAt) {
		return nil
	}
	for _, sub := range h.windows[change.View.WindowID] {
		sub.offer(change.View)
	}
	return nil
}

func (h *Hub) Subscribers(windowID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.windows[windowID])
}

// Close ends every subscription; later subscriptions start closed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for windowID, subs := range h.windows {
		for _, sub := range subs {
			sub.once.Do(func() { close(sub.mailbox) })
		}
		delete(h.windows, windowID)
	}
}

type SubscribeMessage struct {
	Action   string `json:"action"`
	BranchID string `json:"branch_id"`
	WindowID string `json:"window_id"`
}

// ParseSubscribe decodes a client control frame; anything that is not a
// subscribe or unsubscribe action is rejected.
func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	switch msg.Action {
	case "subscribe":
		if msg.WindowID == "" {
			return SubscribeMessage{}, false
		}
	case "unsubscribe":
	default:
		return SubscribeMessage{}, false
	}
	return msg, true
}
