// Package eventstore persists relayed webhook events keyed by their
// idempotency key. Two backends exist: Postgres (pgx) and the Supabase
// PostgREST API. Both guarantee that concurrent writes for one external_id
// merge into a single row instead of creating duplicates.
package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a relayed event. Every state except
// received ends the invocation; invalid_phone and call_api_error may still
// move to forwarded_to_call_api on a later retry.
type Status string

const (
	StatusReceived     Status = "received"
	StatusQueued       Status = "queued"
	StatusForwarded    Status = "forwarded_to_call_api"
	StatusInvalidPhone Status = "invalid_phone"
	StatusCallAPIError Status = "call_api_error"
)

// ErrNotFound is returned when no row exists for an external ID.
var ErrNotFound = errors.New("event not found")

// EventRecord is one relayed event.
type EventRecord struct {
	ExternalID    string
	EventType     string
	Payload       json.RawMessage
	Status        Status
	CallReference *string
	Error         *string
	ProcessedAt   *time.Time
	ReceivedAt    time.Time
}

// Patch is a partial update applied to an existing row. Nil fields are
// left untouched.
type Patch struct {
	Status        *Status
	CallReference *string
	Error         *string
	ProcessedAt   *time.Time
}

// Store is the event log collaborator.
type Store interface {
	// InsertOrMerge records the event keyed by ExternalID. On first sight a
	// row with the given status is created; on redelivery the payload and
	// event type are merged into the existing row while its lifecycle status
	// is preserved. The row as stored is returned so callers can see a prior
	// terminal status before dispatching.
	InsertOrMerge(ctx context.Context, rec EventRecord) (EventRecord, error)

	// Patch applies a partial update to the row with the given external ID.
	Patch(ctx context.Context, externalID string, p Patch) error
}

// StatusPatch builds a Patch that moves a row to the given status.
func StatusPatch(status Status) Patch {
	return Patch{Status: &status}
}

// ForwardedPatch builds the terminal patch for a successfully dispatched call.
func ForwardedPatch(callRef string, at time.Time) Patch {
	status := StatusForwarded
	return Patch{Status: &status, CallReference: &callRef, ProcessedAt: &at}
}

// FailurePatch builds the patch for a failed processing outcome.
func FailurePatch(status Status, reason string, at time.Time) Patch {
	return Patch{Status: &status, Error: &reason, ProcessedAt: &at}
}
