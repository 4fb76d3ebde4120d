package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"argus_relay/internal/events"
	"argus_relay/internal/eventstore"
	"argus_relay/internal/vapi"
	"argus_relay/platform/apperr"
	"argus_relay/platform/logger"
)

// fakeStore keeps event rows in memory and mimics insert-or-merge.
type fakeStore struct {
	rows      map[string]eventstore.EventRecord
	insertErr error
	patches   []eventstore.Patch
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: map[string]eventstore.EventRecord{}}
}

func (s *fakeStore) InsertOrMerge(_ context.Context, rec eventstore.EventRecord) (eventstore.EventRecord, error) {
	if s.insertErr != nil {
		return eventstore.EventRecord{}, s.insertErr
	}
	if existing, ok := s.rows[rec.ExternalID]; ok {
		existing.EventType = rec.EventType
		existing.Payload = rec.Payload
		s.rows[rec.ExternalID] = existing
		return existing, nil
	}
	rec.ReceivedAt = time.Now()
	s.rows[rec.ExternalID] = rec
	return rec, nil
}

func (s *fakeStore) Patch(_ context.Context, externalID string, p eventstore.Patch) error {
	rec, ok := s.rows[externalID]
	if !ok {
		return eventstore.ErrNotFound
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.CallReference != nil {
		rec.CallReference = p.CallReference
	}
	if p.Error != nil {
		rec.Error = p.Error
	}
	if p.ProcessedAt != nil {
		rec.ProcessedAt = p.ProcessedAt
	}
	s.rows[externalID] = rec
	s.patches = append(s.patches, p)
	return nil
}

// fakeDispatcher records call requests.
type fakeDispatcher struct {
	calls []vapi.CallRequest
	err   error
}

func (d *fakeDispatcher) StartCall(_ context.Context, req vapi.CallRequest) (vapi.CallResponse, error) {
	if d.err != nil {
		return vapi.CallResponse{}, d.err
	}
	d.calls = append(d.calls, req)
	return vapi.CallResponse{ID: "call-abc"}, nil
}

func newTestService(store *fakeStore, dispatcher *fakeDispatcher, cfg testRelayConfig) *Service {
	log := logger.New("test")
	bus := events.NewInMemoryBus(log)
	locator := NewLocator(cfg)
	return NewService(store, dispatcher, nil, locator, bus, cfg, log)
}

func inbound(body string) Inbound {
	return Inbound{Payload: DecodePayload([]byte(body))}
}

func TestProcessEventForwards(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	svc := newTestService(store, dispatcher, testRelayConfig{})

	out, err := svc.ProcessEvent(context.Background(), inbound(`{"id":"evt-1","callee":"(11) 98888-7777"}`))
	if err != nil {
		t.Fatal(err)
	}

	if out.Status != eventstore.StatusForwarded {
		t.Fatalf("status = %s", out.Status)
	}
	if out.ExternalID != "evt-1" {
		t.Errorf("external id = %q", out.ExternalID)
	}
	if out.CallReference != "call-abc" {
		t.Errorf("call reference = %q", out.CallReference)
	}

	if len(dispatcher.calls) != 1 {
		t.Fatalf("dispatcher calls = %d", len(dispatcher.calls))
	}
	call := dispatcher.calls[0]
	if call.To != "+5511988887777" {
		t.Errorf("To = %q", call.To)
	}
	if call.Metadata["source"] != "argus" || call.Metadata["argusId"] != "evt-1" {
		t.Errorf("metadata = %v", call.Metadata)
	}

	row := store.rows["evt-1"]
	if row.Status != eventstore.StatusForwarded {
		t.Errorf("stored status = %s", row.Status)
	}
	if row.CallReference == nil || *row.CallReference != "call-abc" {
		t.Error("call reference not persisted")
	}
	if row.ProcessedAt == nil {
		t.Error("processed_at not set")
	}
}

func TestProcessEventDialFormat(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	svc := newTestService(store, dispatcher, testRelayConfig{dialFormat: "digits"})

	if _, err := svc.ProcessEvent(context.Background(), inbound(`{"id":"e","callee":"11988887777"}`)); err != nil {
		t.Fatal(err)
	}
	if dispatcher.calls[0].To != "5511988887777" {
		t.Errorf("To = %q", dispatcher.calls[0].To)
	}
}

func TestProcessEventUsesCallerAsOrigin(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	svc := newTestService(store, dispatcher, testRelayConfig{})

	if _, err := svc.ProcessEvent(context.Background(), inbound(`{"id":"e","callee":"11988887777","caller":"11911112222"}`)); err != nil {
		t.Fatal(err)
	}
	if dispatcher.calls[0].From != "+5511911112222" {
		t.Errorf("From = %q", dispatcher.calls[0].From)
	}
}

func TestProcessEventInvalidPhone(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	svc := newTestService(store, dispatcher, testRelayConfig{})

	out, err := svc.ProcessEvent(context.Background(), inbound(`{"id":"evt-2","callee":"{{phone}}"}`))
	if err != nil {
		t.Fatal(err)
	}

	if out.Status != eventstore.StatusInvalidPhone {
		t.Fatalf("status = %s", out.Status)
	}
	if out.Reason == "" {
		t.Error("expected a reason")
	}
	if len(dispatcher.calls) != 0 {
		t.Error("dispatcher must not be called")
	}
	if store.rows["evt-2"].Status != eventstore.StatusInvalidPhone {
		t.Errorf("stored status = %s", store.rows["evt-2"].Status)
	}
}

func TestProcessEventDryRun(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	svc := newTestService(store, dispatcher, testRelayConfig{dryRun: true})

	out, err := svc.ProcessEvent(context.Background(), inbound(`{"id":"evt-3","callee":"11988887777"}`))
	if err != nil {
		t.Fatal(err)
	}

	if out.Status != eventstore.StatusQueued {
		t.Fatalf("status = %s", out.Status)
	}
	if len(dispatcher.calls) != 0 {
		t.Error("dry run must not dispatch")
	}
	if store.rows["evt-3"].Status != eventstore.StatusQueued {
		t.Errorf("stored status = %s", store.rows["evt-3"].Status)
	}
}

func TestProcessEventReplayGuard(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	svc := newTestService(store, dispatcher, testRelayConfig{})

	body := `{"id":"evt-4","callee":"11988887777"}`
	if _, err := svc.ProcessEvent(context.Background(), inbound(body)); err != nil {
		t.Fatal(err)
	}
	if len(dispatcher.calls) != 1 {
		t.Fatalf("first delivery: dispatcher calls = %d", len(dispatcher.calls))
	}

	out, err := svc.ProcessEvent(context.Background(), inbound(body))
	if err != nil {
		t.Fatal(err)
	}

	if len(dispatcher.calls) != 1 {
		t.Error("redelivery must not place a second call")
	}
	if !out.Replayed {
		t.Error("outcome not marked as replayed")
	}
	if out.Status != eventstore.StatusForwarded || out.CallReference != "call-abc" {
		t.Errorf("replay outcome = %+v", out)
	}
}

func TestProcessEventMergePreservesTerminalStatus(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	svc := newTestService(store, dispatcher, testRelayConfig{})

	if _, err := svc.ProcessEvent(context.Background(), inbound(`{"id":"evt-5","callee":"11988887777","n":1}`)); err != nil {
		t.Fatal(err)
	}

	// Redelivery with a changed payload merges but must not re-dispatch.
	out, err := svc.ProcessEvent(context.Background(), inbound(`{"id":"evt-5","callee":"11988887777","n":2}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(dispatcher.calls) != 1 {
		t.Error("merged redelivery must not place a second call")
	}
	if !out.Replayed {
		t.Error("outcome not marked as replayed")
	}
}

func TestProcessEventStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("connection refused")
	dispatcher := &fakeDispatcher{}
	svc := newTestService(store, dispatcher, testRelayConfig{})

	_, err := svc.ProcessEvent(context.Background(), inbound(`{"id":"evt-6","callee":"11988887777"}`))
	if err == nil {
		t.Fatal("expected an error")
	}
	if !apperr.Is(err, apperr.KindUnavailable) {
		t.Errorf("error kind = %v", apperr.GetKind(err))
	}
	if len(dispatcher.calls) != 0 {
		t.Error("store failure must prevent dispatch")
	}
}

func TestProcessEventCallAPIError(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{err: errors.New("vapi returned 402: payment required")}
	svc := newTestService(store, dispatcher, testRelayConfig{})

	out, err := svc.ProcessEvent(context.Background(), inbound(`{"id":"evt-7","callee":"11988887777"}`))
	if err != nil {
		t.Fatal("dispatch failure is an outcome, not an error")
	}

	if out.Status != eventstore.StatusCallAPIError {
		t.Fatalf("status = %s", out.Status)
	}
	row := store.rows["evt-7"]
	if row.Status != eventstore.StatusCallAPIError {
		t.Errorf("stored status = %s", row.Status)
	}
	if row.Error == nil || *row.Error == "" {
		t.Error("error detail not persisted")
	}
}

func TestProcessEventRetryAfterFailureMovesForward(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{err: errors.New("vapi returned 500: boom")}
	svc := newTestService(store, dispatcher, testRelayConfig{})

	body := `{"id":"evt-8","callee":"11988887777"}`
	if _, err := svc.ProcessEvent(context.Background(), inbound(body)); err != nil {
		t.Fatal(err)
	}
	if store.rows["evt-8"].Status != eventstore.StatusCallAPIError {
		t.Fatalf("setup: status = %s", store.rows["evt-8"].Status)
	}

	// The upstream outage ends; a redelivery now succeeds.
	dispatcher.err = nil
	out, err := svc.ProcessEvent(context.Background(), inbound(body))
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != eventstore.StatusForwarded {
		t.Errorf("status = %s", out.Status)
	}
	if store.rows["evt-8"].Status != eventstore.StatusForwarded {
		t.Errorf("stored status = %s", store.rows["evt-8"].Status)
	}
}

func TestRedispatchStoredEvent(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	svc := newTestService(store, dispatcher, testRelayConfig{})

	rec, err := store.InsertOrMerge(context.Background(), eventstore.EventRecord{
		ExternalID: "evt-9",
		EventType:  "call.ended",
		Payload:    []byte(`{"callee":"11988887777"}`),
		Status:     eventstore.StatusInvalidPhone,
	})
	if err != nil {
		t.Fatal(err)
	}

	out := svc.Redispatch(context.Background(), rec)
	if out.Status != eventstore.StatusForwarded {
		t.Fatalf("status = %s", out.Status)
	}
	if store.rows["evt-9"].Status != eventstore.StatusForwarded {
		t.Errorf("stored status = %s", store.rows["evt-9"].Status)
	}
}
