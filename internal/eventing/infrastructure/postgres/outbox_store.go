package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"royalty-cloud/internal/eventing"
)

// OutboxStore persists event envelopes in event_outbox. Claimed rows are
// leased so several dispatchers can share the table.
type OutboxStore struct {
	db          *sql.DB
	maxAttempts int
	lease       time.Duration
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithRetry keeps failed records pending until they fail attempts times.
func WithRetry(attempts int) OutboxOption {
	return func(store *OutboxStore) {
		if attempts > 0 {
			store.maxAttempts = attempts
		}
	}
}

// WithLease sets how long a claimed record stays hidden from other dispatchers.
func WithLease(d time.Duration) OutboxOption {
	return func(store *OutboxStore) {
		if d > 0 {
			store.lease = d
		}
	}
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) *OutboxStore {
	store := &OutboxStore{db: db, maxAttempts: 1, lease: 30 * time.Second}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

var errNilDB = errors.New("outbox store: nil db")

// Insert writes an envelope as a pending record. Re-inserting an event id is a no-op.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errNilDB
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	id := eventing.NewEventID()
	_, err = s.db.ExecContext(ctx, `
INSERT INTO event_outbox (id, event_id, event_type, tenant_id, contract_id, payload, status, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, $7)
ON CONFLICT (event_id) DO NOTHING`,
		id, env.EventID, env.EventType, env.TenantID, env.ContractID, payload, time.Now().UTC())
	if err != nil {
		return "", err
	}
	return id, nil
}

// ListPending claims up to limit pending records, oldest first.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
UPDATE event_outbox
SET locked_until = now() + $2::float8 * interval '1 millisecond'
WHERE id IN (
	SELECT id FROM event_outbox
	WHERE status = 'pending' AND (locked_until IS NULL OR locked_until < now())
	ORDER BY created_at
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, payload, created_at`, limit, float64(s.lease.Milliseconds()))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type claimed struct {
		record  eventing.OutboxRecord
		created time.Time
	}
	var batch []claimed
	for rows.Next() {
		var (
			c       claimed
			payload []byte
		)
		if err := rows.Scan(&c.record.ID, &payload, &c.created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &c.record.Envelope); err != nil {
			return nil, err
		}
		batch = append(batch, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING does not preserve the subquery order.
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].created.Before(batch[j].created) })
	out := make([]eventing.OutboxRecord, len(batch))
	for i, c := range batch {
		out[i] = c.record
	}
	return out, nil
}

// MarkSent marks a record delivered.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE event_outbox SET status = 'sent', sent_at = now(), locked_until = NULL
WHERE id = $1`, id)
	return err
}

// MarkFailed counts a failed attempt. The record goes back to pending until
// it reaches the retry limit, then stays failed.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE event_outbox
SET attempts = attempts + 1,
	locked_until = NULL,
	status = CASE WHEN attempts + 1 >= $1 THEN 'failed' ELSE 'pending' END
WHERE id = $2`, s.maxAttempts, id)
	return err
}
