package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"royalty-cloud/internal/eventing"
)

// OutboxSchema creates the outbox table on an embedded database.
const OutboxSchema = `
CREATE TABLE IF NOT EXISTS event_outbox (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL UNIQUE,
	event_type TEXT NOT NULL,
	tenant_id TEXT NOT NULL DEFAULT '',
	contract_id TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	sent_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_event_outbox_status ON event_outbox (status, created_at);
`

// OutboxStore is the SQLite outbox used when no Postgres DSN is configured.
type OutboxStore struct {
	db *sql.DB
}

// NewOutboxStore creates the table if needed.
func NewOutboxStore(ctx context.Context, db *sql.DB) (*OutboxStore, error) {
	if db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if _, err := db.ExecContext(ctx, OutboxSchema); err != nil {
		return nil, err
	}
	return &OutboxStore{db: db}, nil
}

// Insert writes an envelope as a pending record.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	id := eventing.NewEventID()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO event_outbox (id, event_id, event_type, tenant_id, contract_id, payload, status, attempts, created_at)
VALUES (?, ?, ?, ?, ?, ?, 'pending', 0, ?)
ON CONFLICT (event_id) DO NOTHING`,
		id, env.EventID, env.EventType, env.TenantID, env.ContractID, string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListPending returns pending records oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, payload FROM event_outbox
WHERE status = 'pending'
ORDER BY created_at ASC, id ASC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []eventing.OutboxRecord
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var env eventing.Envelope
		if err := json.Unmarshal([]byte(payload), &env); err != nil {
			return nil, err
		}
		out = append(out, eventing.OutboxRecord{ID: id, Envelope: env})
	}
	return out, rows.Err()
}

// MarkSent marks a record delivered.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE event_outbox SET status = 'sent', sent_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

// MarkFailed marks a record failed.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE event_outbox SET status = 'failed', attempts = attempts + 1 WHERE id = ?`, id)
	return err
}
