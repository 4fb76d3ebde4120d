package eventstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists events in the argus_events table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed event store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// InsertOrMerge upserts the event row. The unique index on external_id plus
// ON CONFLICT makes concurrent deliveries of the same event collapse into
// one row. Payload and event type follow the latest delivery; the lifecycle
// status of an existing row is preserved so a prior terminal state stays
// visible to the replay guard.
func (s *PostgresStore) InsertOrMerge(ctx context.Context, rec EventRecord) (EventRecord, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO argus_events (external_id, event_type, payload, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE SET
			event_type = EXCLUDED.event_type,
			payload = EXCLUDED.payload,
			updated_at = now()
		RETURNING external_id, event_type, payload, status, call_reference, error, processed_at, received_at
	`, rec.ExternalID, rec.EventType, rec.Payload, rec.Status)

	return scanRecord(row)
}

// Patch applies a partial update to the existing row.
func (s *PostgresStore) Patch(ctx context.Context, externalID string, p Patch) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE argus_events SET
			status = COALESCE($2, status),
			call_reference = COALESCE($3, call_reference),
			error = COALESCE($4, error),
			processed_at = COALESCE($5, processed_at),
			updated_at = now()
		WHERE external_id = $1
	`, externalID, p.Status, p.CallReference, p.Error, p.ProcessedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a single event row.
func (s *PostgresStore) Get(ctx context.Context, externalID string) (EventRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT external_id, event_type, payload, status, call_reference, error, processed_at, received_at
		FROM argus_events
		WHERE external_id = $1
	`, externalID)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return EventRecord{}, ErrNotFound
	}
	return rec, err
}

// ListByStatus returns up to limit events in any of the given statuses,
// oldest first. Used by the redrive command to retry failed dispatches.
func (s *PostgresStore) ListByStatus(ctx context.Context, statuses []Status, limit int) ([]EventRecord, error) {
	names := make([]string, len(statuses))
	for i, status := range statuses {
		names[i] = string(status)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT external_id, event_type, payload, status, call_reference, error, processed_at, received_at
		FROM argus_events
		WHERE status = ANY($1)
		ORDER BY received_at ASC
		LIMIT $2
	`, names, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanRecord(row pgx.Row) (EventRecord, error) {
	var rec EventRecord
	err := row.Scan(
		&rec.ExternalID, &rec.EventType, &rec.Payload, &rec.Status,
		&rec.CallReference, &rec.Error, &rec.ProcessedAt, &rec.ReceivedAt,
	)
	return rec, err
}

var _ Store = (*PostgresStore)(nil)
