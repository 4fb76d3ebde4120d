// Package events provides the in-process event bus the relay uses to
// announce delivery lifecycle transitions without coupling modules.
// This is part of the platform layer and contains no business logic.
package events

import (
	"context"
	"time"
)

// Event is implemented by every domain event.
type Event interface {
	// EventName identifies the event type, e.g. "relay.call.forwarded".
	EventName() string
	// OccurredAt returns when the event happened.
	OccurredAt() time.Time
}

// BaseEvent carries the fields shared by all events. Embed it and
// implement EventName.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// OccurredAt returns when the event happened.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps a new event with the current time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now()}
}

// Handler consumes events of one type.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls the underlying function.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus publishes domain events to subscribed handlers.
type Bus interface {
	// Publish delivers the event to every handler subscribed to its name.
	// Delivery is asynchronous; publishers never block on handlers.
	Publish(ctx context.Context, event Event)

	// Subscribe registers a handler for events whose EventName matches.
	Subscribe(eventName string, handler Handler)
}
