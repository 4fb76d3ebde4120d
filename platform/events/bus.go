package events

import (
	"context"
	"sync"

	"argus_relay/platform/logger"
)

// InMemoryBus fans events out to handlers inside the process. Handlers run
// on a separate goroutine with a detached context, so a slow subscriber
// never delays the webhook response and a shutdown mid-flight does not
// cancel handlers for an event that already happened.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *logger.Logger
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string][]Handler),
		log:      log,
	}
}

// Subscribe registers a handler for the named event type.
func (b *InMemoryBus) Subscribe(eventName string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Publish dispatches the event to all subscribed handlers asynchronously.
// Handler errors are logged, never propagated to the publisher.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[event.EventName()]...)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	go func() {
		for _, h := range handlers {
			if err := h.Handle(context.WithoutCancel(ctx), event); err != nil && b.log != nil {
				b.log.Error("event handler failed", "event", event.EventName(), "error", err)
			}
		}
	}()
}

var _ Bus = (*InMemoryBus)(nil)
