package eventing

import (
	"context"
	"log/slog"
	"time"

	"royalty-cloud/internal/observability/metrics"
)

// EventBus is the minimal publish interface.
type EventBus interface {
	Publish(ctx context.Context, event any) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore records events that could not be delivered.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
}

// DispatchResult captures the outcome of a dispatch run.
type DispatchResult struct {
	Claimed int
	Sent    int
	Failed  int
	DLQ     int
}

// Dispatcher sends pending outbox events to the in-process bus.
type Dispatcher struct {
	bus      EventBus
	outbox   OutboxStore
	registry *Registry
	dlq      DLQStore
	logger   *slog.Logger
}

// NewDispatcher constructs a dispatcher. dlq may be nil.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{bus: bus, outbox: outbox, registry: registry, dlq: dlq, logger: logger}
}

// Dispatch delivers up to limit pending records.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (DispatchResult, error) {
	var result DispatchResult
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		return result, nil
	}
	if limit <= 0 {
		limit = 50
	}
	records, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		metrics.ObserveOutboxDispatch(metrics.ResultError, 0, 0)
		return result, err
	}
	result.Claimed = len(records)

	var firstErr error
	fail := func(record OutboxRecord, cause error) {
		d.logger.WarnContext(ctx, "outbox delivery failed", "event_id", record.Envelope.EventID, "event_type", record.Envelope.EventType, "err", cause)
		if err := d.outbox.MarkFailed(ctx, record.ID); err != nil && firstErr == nil {
			firstErr = err
		}
		if d.dlq != nil {
			if err := d.dlq.RecordFailure(ctx, record.Envelope, cause); err == nil {
				result.DLQ++
			}
		}
		result.Failed++
	}

	for _, record := range records {
		payload, err := d.registry.DecodePayload(record.Envelope)
		if err != nil {
			fail(record, err)
			continue
		}
		if err := d.bus.Publish(WithEnvelope(ctx, record.Envelope), payload); err != nil {
			fail(record, err)
			continue
		}
		if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			result.Failed++
			continue
		}
		result.Sent++
	}

	outcome := metrics.ResultSuccess
	if firstErr != nil || result.Failed > 0 {
		outcome = metrics.ResultError
	}
	metrics.ObserveOutboxDispatch(outcome, result.Sent, result.Failed)
	return result, firstErr
}

// Run dispatches on every tick until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration, limit int) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Dispatch(ctx, limit); err != nil {
				d.logger.ErrorContext(ctx, "outbox dispatch", "err", err)
			}
		}
	}
}

// SlogDLQ records failed deliveries in the log.
type SlogDLQ struct {
	Logger *slog.Logger
}

// RecordFailure logs the envelope and cause at error level.
func (q SlogDLQ) RecordFailure(ctx context.Context, env Envelope, err error) error {
	logger := q.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(ctx, "dead letter", "event_id", env.EventID, "event_type", env.EventType, "tenant_id", env.TenantID, "contract_id", env.ContractID, "err", err)
	return nil
}
