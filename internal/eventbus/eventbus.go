// Package eventbus implements the domain event bus described in spec §6:
// subscribe(eventType, handler) / dispatch(event), with handlers invoked in
// subscription order and dispatch awaitable by the caller. It generalizes
// the teacher's single-purpose handler dispatch (detection.Engine's
// EventHandler, alert.Manager's sender fan-out) into a typed, multi-
// subscriber bus shared by every component that emits domain events
// (ProposalSubmitted, AgentConflictDetected, ArbitrationResolved, ...).
package eventbus

import (
	"context"
	"log/slog"
	"sync"
)

// Event is any domain event dispatched on the bus. Type returns the
// routing key used by Subscribe.
type Event interface {
	EventType() string
}

// Handler processes a single dispatched event. Handlers run synchronously,
// in subscription order, on the dispatching goroutine — this matches the
// concurrency model in spec §5 ("dispatch is awaitable") and lets callers
// rely on "decision then events" ordering (spec §5, Arbitration).
type Handler func(ctx context.Context, ev Event) error

// Bus is a typed, multi-subscriber, in-process event bus. It is safe for
// concurrent Subscribe and Dispatch calls.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *slog.Logger
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger.With("component", "eventbus.Bus"),
	}
}

// Subscribe registers handler for eventType. Handlers for the same type
// are invoked in registration order.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Dispatch invokes every handler subscribed to ev's event type, in
// subscription order, and returns the first handler error encountered.
// Later handlers still run even if an earlier one errors, so that one
// broken subscriber cannot silently suppress the others; all errors are
// logged, and the first is returned to the caller.
func (b *Bus) Dispatch(ctx context.Context, ev Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[ev.EventType()]...)
	b.mu.RUnlock()

	var firstErr error
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			b.logger.Error("event handler failed",
				"event_type", ev.EventType(),
				"error", err,
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// SubscriberCount returns the number of handlers registered for eventType,
// used by tests asserting exactly-one-event invariants (spec §8).
func (b *Bus) SubscriberCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
