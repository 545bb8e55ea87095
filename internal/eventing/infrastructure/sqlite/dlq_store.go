package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"royalty-cloud/internal/eventing"
)

// DLQSchema creates the dead letter table on an embedded database.
const DLQSchema = `
CREATE TABLE IF NOT EXISTS dead_letter_events (
	event_id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	tenant_id TEXT NOT NULL DEFAULT '',
	contract_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	error TEXT NOT NULL,
	first_seen_at TEXT NOT NULL,
	last_seen_at TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 1
);
`

// DLQStore is the SQLite dead letter store.
type DLQStore struct {
	db *sql.DB
}

// NewDLQStore creates the table if needed.
func NewDLQStore(ctx context.Context, db *sql.DB) (*DLQStore, error) {
	if db == nil {
		return nil, errors.New("dlq store: nil db")
	}
	if _, err := db.ExecContext(ctx, DLQSchema); err != nil {
		return nil, err
	}
	return &DLQStore{db: db}, nil
}

// RecordFailure upserts the envelope with the delivery error.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if env.EventID == "" {
		return errors.New("dlq store: empty event id")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(ctx, `
INSERT INTO dead_letter_events (
	event_id, event_type, tenant_id, contract_id, payload, error, first_seen_at, last_seen_at, attempts
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
ON CONFLICT (event_id) DO UPDATE SET
	payload = excluded.payload,
	error = excluded.error,
	last_seen_at = excluded.last_seen_at,
	attempts = dead_letter_events.attempts + 1`,
		env.EventID, env.EventType, env.TenantID, env.ContractID, string(payload), message, now, now)
	return err
}
