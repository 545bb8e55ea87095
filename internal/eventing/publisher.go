package eventing

import (
	"context"
	"log/slog"
	"time"
)

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Publisher writes events to the outbox and triggers a dispatch.
type Publisher struct {
	outbox   OutboxWriter
	dispatch *Dispatcher
	tenantID string
	logger   *slog.Logger
}

// NewPublisher constructs a publisher. dispatch may be nil when a background
// Dispatcher.Run drains the outbox.
func NewPublisher(outbox OutboxWriter, dispatch *Dispatcher, tenantID string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{outbox: outbox, dispatch: dispatch, tenantID: tenantID, logger: logger}
}

// Publish writes the event to the outbox.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	if p == nil || p.outbox == nil {
		return nil
	}
	start := time.Now()
	env, err := BuildEnvelope(event, MetaFromContext(ctx, p.tenantID))
	if err != nil {
		return err
	}
	if _, err := p.outbox.Insert(ctx, env); err != nil {
		return err
	}
	if duration := time.Since(start); duration > 50*time.Millisecond {
		p.logger.WarnContext(ctx, "slow outbox publish", "duration_ms", duration.Milliseconds(), "event_type", env.EventType)
	}
	if p.dispatch != nil {
		if _, err := p.dispatch.Dispatch(ctx, 10); err != nil {
			p.logger.WarnContext(ctx, "inline dispatch", "err", err)
		}
	}
	return nil
}
