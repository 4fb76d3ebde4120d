// Package events defines the relay's domain events. The bus machinery
// lives in platform/events; modules import this package so event types and
// infrastructure arrive together.
package events

import (
	platformevents "argus_relay/platform/events"
	"argus_relay/platform/logger"
)

// Aliases so modules need a single events import.
type (
	Event       = platformevents.Event
	Bus         = platformevents.Bus
	Handler     = platformevents.Handler
	HandlerFunc = platformevents.HandlerFunc
	BaseEvent   = platformevents.BaseEvent
	InMemoryBus = platformevents.InMemoryBus
)

// NewBaseEvent stamps a new event with the current time.
var NewBaseEvent = platformevents.NewBaseEvent

// NewInMemoryBus creates the in-process bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return platformevents.NewInMemoryBus(log)
}

// EventReceived is published once an inbound webhook event has been
// durably recorded.
type EventReceived struct {
	BaseEvent
	ExternalID string `json:"externalId"`
	EventType  string `json:"eventType"`
}

func (e EventReceived) EventName() string { return "relay.event.received" }

// CallForwarded is published when the outbound call was dispatched.
type CallForwarded struct {
	BaseEvent
	ExternalID    string `json:"externalId"`
	CallReference string `json:"callReference"`
	Destination   string `json:"destination"`
}

func (e CallForwarded) EventName() string { return "relay.call.forwarded" }

// PhoneRejected is published when no dialable number could be located.
type PhoneRejected struct {
	BaseEvent
	ExternalID string   `json:"externalId"`
	Reason     string   `json:"reason"`
	Candidates []string `json:"candidates,omitempty"`
}

func (e PhoneRejected) EventName() string { return "relay.phone.rejected" }

// CallFailed is published when the calling API rejected the dispatch.
type CallFailed struct {
	BaseEvent
	ExternalID string `json:"externalId"`
	Detail     string `json:"detail"`
}

func (e CallFailed) EventName() string { return "relay.call.failed" }
