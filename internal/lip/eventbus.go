package lip

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// AnyID subscribes to events for every integration ID.
const AnyID = 0

// AnyOperation subscribes to events for every operation.
const AnyOperation Operation = ""

// EventHandler processes a feedback event. A returned error is logged;
// it never affects delivery to the remaining subscribers.
type EventHandler func(Event) error

// subscription is one registered handler with its filter.
type subscription struct {
	id      uint64
	op      Operation
	matchID int
	handler EventHandler
}

// Bus fans feedback events out to subscribers. Handlers run in
// registration order on the publishing goroutine, so a publisher that
// is itself ordered (the session delivery worker) gives every
// subscriber an ordered view of the wire.
//
// Thread Safety: all methods are safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// SetLogger sets the logger for this bus.
func (b *Bus) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// Subscribe registers handler for events matching op and integrationID.
// AnyOperation matches every operation; AnyID matches every integration
// ID. The returned token cancels the subscription via Unsubscribe.
func (b *Bus) Subscribe(op Operation, integrationID int, handler EventHandler) uint64 {
	id := b.nextID.Add(1)

	b.mu.Lock()
	b.subs = append(b.subs, subscription{
		id:      id,
		op:      op,
		matchID: integrationID,
		handler: handler,
	})
	b.mu.Unlock()

	return id
}

// Unsubscribe removes the subscription with the given token. Removing
// an unknown token is a no-op.
func (b *Bus) Unsubscribe(token uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == token {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every matching subscriber in registration
// order. Handler errors and panics are logged and isolated; one bad
// subscriber never starves the rest.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.op != AnyOperation && sub.op != ev.Operation {
			continue
		}
		if sub.matchID != AnyID && sub.matchID != ev.IntegrationID {
			continue
		}
		b.invoke(sub, ev)
	}
}

// invoke runs one handler with panic recovery.
func (b *Bus) invoke(sub subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logError("event handler panic", fmt.Errorf("%v", r),
				"subscription", sub.id, "event", ev.Raw)
		}
	}()

	if err := sub.handler(ev); err != nil {
		b.logError("event handler error", err,
			"subscription", sub.id, "event", ev.Raw)
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Bus) logError(msg string, err error, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
