package vapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"argus_relay/platform/config"
	"argus_relay/platform/logger"
	"argus_relay/platform/validator"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(&config.Config{
		VapiAPIKey:        "vapi-key",
		VapiBaseURL:       srv.URL,
		VapiAssistantID:   "asst_1",
		VapiPhoneNumberID: "+5511900001111",
	}, validator.New(), logger.New("development"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestStartCallSendsBearerAndDefaults(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"id":"call_42"}`))
	})

	resp, err := client.StartCall(context.Background(), CallRequest{
		To:       "+5511988887777",
		Metadata: map[string]string{"source": "argus", "argusId": "evt1"},
	})
	if err != nil {
		t.Fatalf("StartCall: %v", err)
	}

	if resp.ID != "call_42" {
		t.Errorf("call id = %s", resp.ID)
	}
	if gotAuth != "Bearer vapi-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/calls" {
		t.Errorf("path = %s", gotPath)
	}
	if gotBody["assistantId"] != "asst_1" {
		t.Errorf("assistantId = %v, want configured default", gotBody["assistantId"])
	}
	if gotBody["from"] != "+5511900001111" {
		t.Errorf("from = %v, want configured origin", gotBody["from"])
	}
	meta, _ := gotBody["metadata"].(map[string]any)
	if meta["argusId"] != "evt1" {
		t.Errorf("metadata = %v", gotBody["metadata"])
	}
}

func TestStartCallNonSuccessStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte("out of credits"))
	})

	_, err := client.StartCall(context.Background(), CallRequest{To: "+5511988887777"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "402") || !strings.Contains(err.Error(), "out of credits") {
		t.Errorf("error = %v", err)
	}
}

func TestStartCallRejectsMissingDestination(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, err := client.StartCall(context.Background(), CallRequest{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if called {
		t.Error("request must not reach the API without a destination")
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(&config.Config{}, validator.New(), logger.New("development"))
	if err == nil {
		t.Fatal("expected error for missing api key")
	}
}
