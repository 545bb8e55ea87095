package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"royalty-cloud/internal/eventing"
)

// DLQStore keeps envelopes the dispatcher could not deliver. A record that
// fails again bumps attempts and keeps the latest error.
type DLQStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewDLQStore constructs a dead letter store on the dead_letter_events table.
func NewDLQStore(db *sql.DB) *DLQStore {
	return &DLQStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// RecordFailure upserts the envelope with the delivery error.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, cause error) error {
	if s == nil || s.db == nil {
		return errors.New("dlq store: nil db")
	}
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
	_, err = s.db.ExecContext(ctx, `
INSERT INTO dead_letter_events (
	event_id, event_type, tenant_id, contract_id, payload, error, first_seen_at, last_seen_at, attempts
) VALUES ($1, $2, $3, $4, $5, $6, $7, $7, 1)
ON CONFLICT (event_id) DO UPDATE SET
	payload = EXCLUDED.payload,
	error = EXCLUDED.error,
	last_seen_at = EXCLUDED.last_seen_at,
	attempts = dead_letter_events.attempts + 1`,
		env.EventID, env.EventType, env.TenantID, env.ContractID, payload, message, s.now())
	return err
}
