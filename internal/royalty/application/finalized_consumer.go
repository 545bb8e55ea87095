package application

import (
	"context"
	"log/slog"
	"time"

	"royalty-cloud/internal/eventing"
	"royalty-cloud/internal/observability/metrics"
)

// FinalizedConsumerName identifies the statement ledger consumer in processed-event bookkeeping.
const FinalizedConsumerName = "statement-ledger"

// SubscribeFinalizedLedger records every finalized statement in the log so payment
// runs can reconcile against it. Redelivered events are skipped when store is set.
func SubscribeFinalizedLedger(bus eventing.Subscriber, store eventing.ProcessedStore, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	eventing.Subscribe(bus, FinalizedConsumerName, func(ctx context.Context, evt StatementFinalized) error {
		if env, ok := eventing.EnvelopeFromContext(ctx); ok && !env.OccurredAt.IsZero() {
			metrics.ObserveConsumerLag(FinalizedConsumerName, time.Since(env.OccurredAt))
		}
		logger.InfoContext(ctx, "statement finalized",
			"tenant_id", evt.TenantID,
			"contract_id", evt.ContractID,
			"statement_id", evt.StatementID,
			"version", evt.Version,
			"period_start", evt.PeriodStart.Format(time.DateOnly),
			"period_end", evt.PeriodEnd.Format(time.DateOnly),
			"currency", evt.Currency,
			"net_payable", evt.NetPayable.String(),
			"advance_recouped", evt.AdvanceRecouped.String(),
			"snapshot_hash", evt.SnapshotHash,
		)
		return nil
	}, store)
}
