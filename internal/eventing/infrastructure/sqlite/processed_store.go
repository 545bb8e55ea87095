package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ProcessedSchema creates the processed-events table on an embedded database.
const ProcessedSchema = `
CREATE TABLE IF NOT EXISTS processed_events (
	event_id TEXT NOT NULL,
	consumer_name TEXT NOT NULL,
	processed_at TEXT NOT NULL,
	PRIMARY KEY (event_id, consumer_name)
);
`

// ProcessedStore is the SQLite processed-event store.
type ProcessedStore struct {
	db *sql.DB
}

// NewProcessedStore creates the table if needed.
func NewProcessedStore(ctx context.Context, db *sql.DB) (*ProcessedStore, error) {
	if db == nil {
		return nil, errors.New("processed store: nil db")
	}
	if _, err := db.ExecContext(ctx, ProcessedSchema); err != nil {
		return nil, err
	}
	return &ProcessedStore{db: db}, nil
}

// HasProcessed reports whether consumerName already handled eventID.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*) FROM processed_events WHERE event_id = ? AND consumer_name = ?`, eventID, consumerName).Scan(&n)
	return n > 0, err
}

// MarkProcessed records the event for the consumer; repeats are ignored.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	if eventID == "" || consumerName == "" {
		return errors.New("processed store: event id and consumer required")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO processed_events (event_id, consumer_name, processed_at)
VALUES (?, ?, ?)
ON CONFLICT (event_id, consumer_name) DO NOTHING`,
		eventID, consumerName, time.Now().UTC().Format(time.RFC3339Nano))
	return err
}
