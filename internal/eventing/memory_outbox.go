package eventing

import (
	"context"
	"sync"
)

// MemoryOutbox is an in-process outbox for the embedded store and tests.
type MemoryOutbox struct {
	mu      sync.Mutex
	records []memoryOutboxRecord
}

type memoryOutboxRecord struct {
	OutboxRecord
	status   string
	attempts int
}

// NewMemoryOutbox constructs an empty outbox.
func NewMemoryOutbox() *MemoryOutbox { return &MemoryOutbox{} }

// Insert appends a pending record.
func (o *MemoryOutbox) Insert(_ context.Context, env Envelope) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := NewEventID()
	o.records = append(o.records, memoryOutboxRecord{OutboxRecord: OutboxRecord{ID: id, Envelope: env}, status: "pending"})
	return id, nil
}

// ListPending returns pending records in insertion order.
func (o *MemoryOutbox) ListPending(_ context.Context, limit int) ([]OutboxRecord, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []OutboxRecord
	for _, r := range o.records {
		if r.status != "pending" {
			continue
		}
		out = append(out, r.OutboxRecord)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkSent marks a record sent.
func (o *MemoryOutbox) MarkSent(_ context.Context, id string) error {
	o.setStatus(id, "sent")
	return nil
}

// MarkFailed marks a record failed.
func (o *MemoryOutbox) MarkFailed(_ context.Context, id string) error {
	o.setStatus(id, "failed")
	return nil
}

// Count returns the number of records with the given status.
func (o *MemoryOutbox) Count(status string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.records {
		if r.status == status {
			n++
		}
	}
	return n
}

func (o *MemoryOutbox) setStatus(id, status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.records {
		if o.records[i].ID == id {
			o.records[i].status = status
			if status == "failed" {
				o.records[i].attempts++
			}
			return
		}
	}
}
