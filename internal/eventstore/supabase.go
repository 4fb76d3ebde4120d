package eventstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"argus_relay/platform/config"
)

const supabaseTable = "argus_events"

// SupabaseStore talks to the Supabase PostgREST API, the store used by the
// original deployment. The service-role key authenticates every request.
type SupabaseStore struct {
	baseURL    string
	serviceKey string
	http       *http.Client
}

// NewSupabaseStore creates a Supabase REST event store.
func NewSupabaseStore(cfg config.SupabaseConfig) *SupabaseStore {
	return &SupabaseStore{
		baseURL:    strings.TrimRight(cfg.GetSupabaseURL(), "/"),
		serviceKey: cfg.GetSupabaseServiceKey(),
		http:       &http.Client{Timeout: 10 * time.Second},
	}
}

type supabaseRow struct {
	ExternalID    string          `json:"external_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        Status          `json:"status"`
	CallReference *string         `json:"call_reference,omitempty"`
	Error         *string         `json:"error,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	// Pointer so inserts omit it and the database default applies.
	ReceivedAt *time.Time `json:"received_at,omitempty"`
}

// InsertOrMerge inserts the row, ignoring a duplicate external_id, then
// merges payload and event type into the existing row on redelivery. The
// row's lifecycle status is never overwritten here.
func (s *SupabaseStore) InsertOrMerge(ctx context.Context, rec EventRecord) (EventRecord, error) {
	inserted, err := s.insertIgnoreDuplicates(ctx, rec)
	if err != nil {
		return EventRecord{}, err
	}
	if inserted != nil {
		return *inserted, nil
	}

	// Duplicate: refresh the payload columns and return the current row.
	merged, err := s.patchReturning(ctx, rec.ExternalID, map[string]any{
		"event_type": rec.EventType,
		"payload":    rec.Payload,
	})
	if err != nil {
		return EventRecord{}, err
	}
	return merged, nil
}

// Patch applies a partial update to the existing row.
func (s *SupabaseStore) Patch(ctx context.Context, externalID string, p Patch) error {
	fields := map[string]any{}
	if p.Status != nil {
		fields["status"] = *p.Status
	}
	if p.CallReference != nil {
		fields["call_reference"] = *p.CallReference
	}
	if p.Error != nil {
		fields["error"] = *p.Error
	}
	if p.ProcessedAt != nil {
		fields["processed_at"] = p.ProcessedAt.UTC().Format(time.RFC3339)
	}
	if len(fields) == 0 {
		return nil
	}

	_, err := s.patchReturning(ctx, externalID, fields)
	return err
}

func (s *SupabaseStore) insertIgnoreDuplicates(ctx context.Context, rec EventRecord) (*EventRecord, error) {
	body, err := json.Marshal([]supabaseRow{toSupabaseRow(rec)})
	if err != nil {
		return nil, fmt.Errorf("marshal event row: %w", err)
	}

	req, err := s.newRequest(ctx, http.MethodPost, s.tableURL(""), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "resolution=ignore-duplicates,return=representation")

	rows, err := s.do(req)
	if err != nil {
		return nil, fmt.Errorf("event insert: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	rec = fromSupabaseRow(rows[0])
	return &rec, nil
}

func (s *SupabaseStore) patchReturning(ctx context.Context, externalID string, fields map[string]any) (EventRecord, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return EventRecord{}, fmt.Errorf("marshal patch: %w", err)
	}

	filter := "external_id=eq." + url.QueryEscape(externalID)
	req, err := s.newRequest(ctx, http.MethodPatch, s.tableURL(filter), body)
	if err != nil {
		return EventRecord{}, err
	}
	req.Header.Set("Prefer", "return=representation")

	rows, err := s.do(req)
	if err != nil {
		return EventRecord{}, fmt.Errorf("event patch: %w", err)
	}
	if len(rows) == 0 {
		return EventRecord{}, ErrNotFound
	}
	return fromSupabaseRow(rows[0]), nil
}

func (s *SupabaseStore) tableURL(filter string) string {
	u := s.baseURL + "/rest/v1/" + supabaseTable
	if filter != "" {
		u += "?" + filter
	}
	return u
}

func (s *SupabaseStore) newRequest(ctx context.Context, method, u string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.serviceKey)
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	return req, nil
}

func (s *SupabaseStore) do(req *http.Request) ([]supabaseRow, error) {
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("supabase returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if len(data) == 0 {
		return nil, nil
	}
	var rows []supabaseRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode supabase response: %w", err)
	}
	return rows, nil
}

func toSupabaseRow(rec EventRecord) supabaseRow {
	return supabaseRow{
		ExternalID:    rec.ExternalID,
		EventType:     rec.EventType,
		Payload:       rec.Payload,
		Status:        rec.Status,
		CallReference: rec.CallReference,
		Error:         rec.Error,
		ProcessedAt:   rec.ProcessedAt,
	}
}

func fromSupabaseRow(row supabaseRow) EventRecord {
	rec := EventRecord{
		ExternalID:    row.ExternalID,
		EventType:     row.EventType,
		Payload:       row.Payload,
		Status:        row.Status,
		CallReference: row.CallReference,
		Error:         row.Error,
		ProcessedAt:   row.ProcessedAt,
	}
	if row.ReceivedAt != nil {
		rec.ReceivedAt = *row.ReceivedAt
	}
	return rec
}

var _ Store = (*SupabaseStore)(nil)
