package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/soundrise/notify/notification"
)

// Event names a notification lifecycle transition.
type Event string

const (
	EventReceived  Event = "received"
	EventSent      Event = "sent"
	EventRead      Event = "read"
	EventSeen      Event = "seen"
	EventDismissed Event = "dismissed"
	EventArchived  Event = "archived"
)

// Callback receives lifecycle events for one user's notifications.
type Callback func(event Event, n notification.Notification)

// Hub is an in-process observer registry keyed by user ID. Transport layers
// (SSE handlers, WebSocket bridges, UI state) subscribe to learn about
// lifecycle transitions without polling.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]Callback // userID -> token -> callback
	logger *slog.Logger
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the logger used for callback panic reports.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// New creates an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		subs:   make(map[string]map[string]Callback),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers a callback for one user's events and returns an
// unsubscribe function. Unsubscribing the last callback for a user removes
// the registry entry entirely so the map never grows unbounded.
func (h *Hub) Subscribe(userID string, cb Callback) func() {
	if userID == "" || cb == nil {
		return func() {}
	}

	token := uuid.New().String()

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[string]Callback)
	}
	h.subs[userID][token] = cb
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[userID], token)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
		})
	}
}

// Publish delivers an event to every callback registered for the
// notification's recipient. A panic in one callback is isolated and logged so
// it never prevents delivery to the others.
func (h *Hub) Publish(event Event, n notification.Notification) {
	h.mu.RLock()
	callbacks := make([]Callback, 0, len(h.subs[n.UserID]))
	for _, cb := range h.subs[n.UserID] {
		callbacks = append(callbacks, cb)
	}
	h.mu.RUnlock()

	for _, cb := range callbacks {
		h.invoke(cb, event, n)
	}
}

func (h *Hub) invoke(cb Callback, event Event, n notification.Notification) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.LogAttrs(context.Background(), slog.LevelError, "notification subscriber panicked",
				slog.String("event", string(event)),
				slog.String("notification_id", n.ID),
				slog.String("user_id", n.UserID),
				slog.Any("panic", r),
			)
		}
	}()
	cb(event, n)
}

// SubscriberCount returns the number of callbacks registered for a user.
func (h *Hub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

// Users returns the number of users with at least one subscriber.
func (h *Hub) Users() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
