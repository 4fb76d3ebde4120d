package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"argus_relay/platform/config"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *SupabaseStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSupabaseStore(&config.Config{
		SupabaseURL:        srv.URL,
		SupabaseServiceKey: "service-key",
	})
}

func TestSupabaseInsertSendsServiceCredentials(t *testing.T) {
	var gotAuth, gotAPIKey, gotPrefer string
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAPIKey = r.Header.Get("apikey")
		gotPrefer = r.Header.Get("Prefer")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"external_id":"evt1","event_type":"call.ended","status":"received"}]`))
	})

	rec, err := store.InsertOrMerge(context.Background(), EventRecord{
		ExternalID: "evt1",
		EventType:  "call.ended",
		Payload:    json.RawMessage(`{}`),
		Status:     StatusReceived,
	})
	if err != nil {
		t.Fatalf("InsertOrMerge: %v", err)
	}

	if gotAuth != "Bearer service-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotAPIKey != "service-key" {
		t.Errorf("apikey = %q", gotAPIKey)
	}
	if gotPrefer != "resolution=ignore-duplicates,return=representation" {
		t.Errorf("Prefer = %q", gotPrefer)
	}
	if rec.Status != StatusReceived {
		t.Errorf("status = %s", rec.Status)
	}
}

func TestSupabaseInsertDuplicateMergesAndReturnsExistingRow(t *testing.T) {
	var patchFilter string
	var patchBody map[string]any
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			// ignore-duplicates: nothing inserted
			_, _ = w.Write([]byte(`[]`))
		case http.MethodPatch:
			patchFilter = r.URL.RawQuery
			_ = json.NewDecoder(r.Body).Decode(&patchBody)
			_, _ = w.Write([]byte(`[{"external_id":"evt1","event_type":"call.ended","status":"forwarded_to_call_api","call_reference":"call_9"}]`))
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})

	rec, err := store.InsertOrMerge(context.Background(), EventRecord{
		ExternalID: "evt1",
		EventType:  "call.ended",
		Payload:    json.RawMessage(`{"n":2}`),
		Status:     StatusReceived,
	})
	if err != nil {
		t.Fatalf("InsertOrMerge: %v", err)
	}

	if patchFilter != "external_id=eq.evt1" {
		t.Errorf("patch filter = %q", patchFilter)
	}
	if _, ok := patchBody["status"]; ok {
		t.Error("merge must not overwrite lifecycle status")
	}
	if rec.Status != StatusForwarded {
		t.Errorf("status = %s, want prior terminal status preserved", rec.Status)
	}
	if rec.CallReference == nil || *rec.CallReference != "call_9" {
		t.Errorf("call reference = %v", rec.CallReference)
	}
}

func TestSupabasePatchSendsOnlySetFields(t *testing.T) {
	var body map[string]any
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"external_id":"evt1","status":"invalid_phone"}]`))
	})

	status := StatusInvalidPhone
	reason := "no candidate found"
	err := store.Patch(context.Background(), "evt1", Patch{Status: &status, Error: &reason})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}

	if body["status"] != "invalid_phone" || body["error"] != "no candidate found" {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["call_reference"]; ok {
		t.Error("unset fields must not be sent")
	}
}

func TestSupabasePatchMissingRow(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})

	status := StatusQueued
	err := store.Patch(context.Background(), "missing", Patch{Status: &status})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSupabaseErrorIncludesStatusAndBody(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid api key"}`))
	})

	_, err := store.InsertOrMerge(context.Background(), EventRecord{ExternalID: "evt1", Status: StatusReceived})
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "401") || !strings.Contains(got, "invalid api key") {
		t.Errorf("error = %q", got)
	}
}
