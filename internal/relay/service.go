package relay

import (
	"context"
	"strings"
	"time"

	"argus_relay/internal/dedupe"
	"argus_relay/internal/events"
	"argus_relay/internal/eventstore"
	"argus_relay/internal/vapi"
	"argus_relay/platform/apperr"
	"argus_relay/platform/config"
	"argus_relay/platform/logger"
	"argus_relay/platform/phone"
)

// Inbound is one webhook delivery after transport-level parsing.
type Inbound struct {
	Payload Payload
	Aux     Aux
	// Meta is masked request metadata stored with the event for diagnostics.
	Meta map[string]any
}

// Outcome is the result of processing one delivery.
type Outcome struct {
	ExternalID    string
	Status        eventstore.Status
	CallReference string
	Reason        string
	Candidates    []string
	// Replayed is set when a redelivery matched an already-forwarded event
	// and the dispatcher was deliberately skipped.
	Replayed bool
}

// Service orchestrates the relay state machine:
// received → queued | invalid_phone | forwarded_to_call_api | call_api_error.
type Service struct {
	store      eventstore.Store
	dispatcher vapi.Dispatcher
	cache      *dedupe.Cache
	locator    *Locator
	bus        events.Bus
	cfg        config.RelayConfig
	log        *logger.Logger
}

// NewService creates the relay service. The dispatcher may be nil only in
// dry-run mode.
func NewService(store eventstore.Store, dispatcher vapi.Dispatcher, cache *dedupe.Cache, locator *Locator, bus events.Bus, cfg config.RelayConfig, log *logger.Logger) *Service {
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		cache:      cache,
		locator:    locator,
		bus:        bus,
		cfg:        cfg,
		log:        log,
	}
}

// ProcessEvent handles one delivery end to end. A non-nil error is returned
// only when the initial store write failed, before any side effect; that
// outcome alone is safely retryable by the sender. Every later failure is a
// recorded business outcome, never an error to the caller, so the upstream
// sender is not provoked into redelivering an event whose call was placed.
func (s *Service) ProcessEvent(ctx context.Context, in Inbound) (Outcome, error) {
	externalID := DeriveKey(in.Payload, s.locator.Placeholders())

	// Fast path: redelivery of an event whose call is already placed.
	if ref, ok := s.cache.Forwarded(ctx, externalID); ok {
		s.log.Info("replay suppressed by cache", "event_id", externalID)
		return Outcome{
			ExternalID:    externalID,
			Status:        eventstore.StatusForwarded,
			CallReference: ref,
			Replayed:      true,
		}, nil
	}

	rec := eventstore.EventRecord{
		ExternalID: externalID,
		EventType:  in.Payload.EventType(),
		Payload:    in.Payload.StorageJSON(in.Meta),
		Status:     eventstore.StatusReceived,
	}

	row, err := s.store.InsertOrMerge(ctx, rec)
	if err != nil {
		s.log.StoreError("insert", externalID, err)
		return Outcome{ExternalID: externalID}, apperr.Unavailable("event could not be recorded", err).WithOp("relay.ProcessEvent")
	}

	s.log.WebhookEvent(externalID, rec.EventType, string(eventstore.StatusReceived))
	s.bus.Publish(ctx, events.EventReceived{
		BaseEvent:  events.NewBaseEvent(),
		ExternalID: externalID,
		EventType:  rec.EventType,
	})

	// Replay guard: the merged row keeps its prior status, so a redelivery
	// of a forwarded event must not place a second call.
	if row.Status == eventstore.StatusForwarded && row.CallReference != nil {
		_ = s.cache.MarkForwarded(ctx, externalID, *row.CallReference)
		return Outcome{
			ExternalID:    externalID,
			Status:        eventstore.StatusForwarded,
			CallReference: *row.CallReference,
			Replayed:      true,
		}, nil
	}

	if s.cfg.GetDryRun() {
		s.patch(ctx, externalID, eventstore.StatusPatch(eventstore.StatusQueued))
		s.log.WebhookEvent(externalID, rec.EventType, string(eventstore.StatusQueued))
		return Outcome{ExternalID: externalID, Status: eventstore.StatusQueued}, nil
	}

	return s.dispatch(ctx, externalID, in.Payload, in.Aux), nil
}

// dispatch locates the destination and forwards the call, recording the
// terminal status. Used both by live deliveries and by the redrive path.
func (s *Service) dispatch(ctx context.Context, externalID string, p Payload, aux Aux) Outcome {
	match, found := s.locator.Locate(p, aux)
	if !found {
		reason := "no dialable destination number in payload"
		s.patch(ctx, externalID, eventstore.FailurePatch(eventstore.StatusInvalidPhone, reason, time.Now()))
		s.log.WebhookEvent(externalID, p.EventType(), string(eventstore.StatusInvalidPhone))
		s.bus.Publish(ctx, events.PhoneRejected{
			BaseEvent:  events.NewBaseEvent(),
			ExternalID: externalID,
			Reason:     reason,
		})
		return Outcome{ExternalID: externalID, Status: eventstore.StatusInvalidPhone, Reason: reason}
	}

	if len(match.Candidates) > 1 {
		s.log.Warn("multiple valid destination candidates",
			"event_id", externalID,
			"chosen", match.Normalized,
			"stage", match.Stage,
			"candidates", strings.Join(match.Candidates, ","),
		)
	}

	call, err := s.dispatcher.StartCall(ctx, vapi.CallRequest{
		To:   phone.FormatDial(match.Normalized, s.cfg.GetDialFormat()),
		From: s.originNumber(p),
		Metadata: map[string]string{
			"source":  "argus",
			"argusId": externalID,
		},
	})
	if err != nil {
		s.log.DispatchError(externalID, err)
		s.patch(ctx, externalID, eventstore.FailurePatch(eventstore.StatusCallAPIError, err.Error(), time.Now()))
		s.bus.Publish(ctx, events.CallFailed{
			BaseEvent:  events.NewBaseEvent(),
			ExternalID: externalID,
			Detail:     err.Error(),
		})
		return Outcome{
			ExternalID: externalID,
			Status:     eventstore.StatusCallAPIError,
			Reason:     err.Error(),
			Candidates: match.Candidates,
		}
	}

	// The call is placed: from here on nothing may be reported in a way
	// that causes the sender to redeliver and duplicate it.
	s.patch(ctx, externalID, eventstore.ForwardedPatch(call.ID, time.Now()))
	_ = s.cache.MarkForwarded(ctx, externalID, call.ID)

	s.log.WebhookEvent(externalID, p.EventType(), string(eventstore.StatusForwarded))
	s.bus.Publish(ctx, events.CallForwarded{
		BaseEvent:     events.NewBaseEvent(),
		ExternalID:    externalID,
		CallReference: call.ID,
		Destination:   match.Normalized,
	})

	return Outcome{
		ExternalID:    externalID,
		Status:        eventstore.StatusForwarded,
		CallReference: call.ID,
		Candidates:    match.Candidates,
	}
}

// Redispatch retries a stored event that previously ended in invalid_phone
// or call_api_error, moving it forward to forwarded_to_call_api on success.
func (s *Service) Redispatch(ctx context.Context, rec eventstore.EventRecord) Outcome {
	p := DecodePayload(rec.Payload)
	return s.dispatch(ctx, rec.ExternalID, p, Aux{RawBody: string(rec.Payload)})
}

// patch applies a partial update, logging failures. Patch failures never
// unwind completed work: by the time a patch runs the event is durably
// recorded and any dispatch side effect has already happened.
func (s *Service) patch(ctx context.Context, externalID string, p eventstore.Patch) {
	if err := s.store.Patch(ctx, externalID, p); err != nil {
		s.log.StoreError("patch", externalID, err)
	}
}

func (s *Service) originNumber(p Payload) string {
	obj := p.Object()
	for _, field := range []string{"caller", "from"} {
		if raw, ok := obj[field].(string); ok {
			if normalized, valid := phone.Normalize(raw); valid {
				return normalized
			}
		}
	}
	// Empty falls back to the dispatcher's configured origin number.
	return ""
}
