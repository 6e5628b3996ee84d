package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Event names broadcast between components and instances.
const (
	EventProfileUpdated  = "profile.updated"
	EventProfileBanned   = "profile.banned"
	EventSessionUpdated  = "session.updated"
	EventSettingsUpdated = "settings.updated"
)

// Handler receives an event name and its JSON-encoded payload.
type Handler func(event string, payload []byte)

// Notifier lets independent components observe state changes without
// direct coupling. Delivery is best effort, at least once for handlers
// registered before emit; no ordering guarantee across instances.
type Notifier interface {
	Emit(ctx context.Context, event string, payload any) error
	On(event string, h Handler) (unsubscribe func())
}

// LocalNotifier is the in-process publish/subscribe list.
type LocalNotifier struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
	logger *slog.Logger
}

func NewLocalNotifier(logger *slog.Logger) *LocalNotifier {
	return &LocalNotifier{
		subs:   make(map[string]map[int]Handler),
		logger: logger,
	}
}

// Emit serializes the payload and delivers it synchronously to every
// handler registered for the event.
func (n *LocalNotifier) Emit(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	n.dispatch(event, data)
	return nil
}

// On registers a handler and returns its unsubscribe function.
func (n *LocalNotifier) On(event string, h Handler) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs[event] == nil {
		n.subs[event] = make(map[int]Handler)
	}
	id := n.nextID
	n.nextID++
	n.subs[event][id] = h

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[event], id)
	}
}

// dispatch fans a payload out to local handlers. A panicking handler
// is logged and skipped so one bad subscriber cannot break the rest.
func (n *LocalNotifier) dispatch(event string, payload []byte) {
	n.mu.RLock()
	handlers := make([]Handler, 0, len(n.subs[event]))
	for _, h := range n.subs[event] {
		handlers = append(handlers, h)
	}
	n.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					n.logger.Error("notifier handler panicked",
						slog.String("event", event),
						slog.Any("panic", r))
				}
			}()
			h(event, payload)
		}()
	}
}
