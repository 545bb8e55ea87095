package application

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"royalty-cloud/internal/observability/metrics"
	royalty "royalty-cloud/internal/royalty/domain"
)

// BatchRequest is one (contract, period) generation.
type BatchRequest struct {
	ContractID  string    `json:"contract_id"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	Regenerate  bool      `json:"regenerate"`
}

// BatchResult reports one request's outcome. Exactly one of Statement and Error is set.
type BatchResult struct {
	Request   BatchRequest             `json:"request"`
	Statement *royalty.StatementRecord `json:"statement,omitempty"`
	Error     string                   `json:"error,omitempty"`
	ErrorKind string                   `json:"error_kind,omitempty"`
	err       error
}

// Err returns the generation error, if any.
func (r BatchResult) Err() error { return r.err }

// BatchGenerate generates drafts for many contracts in parallel. Requests for the
// same contract run one at a time in period order; a failed request does not stop
// the others. Results are in request order.
func (s *StatementService) BatchGenerate(ctx context.Context, requests []BatchRequest) []BatchResult {
	start := time.Now()
	results := make([]BatchResult, len(requests))
	for i, req := range requests {
		results[i].Request = req
	}

	byContract := make(map[string][]int)
	var order []string
	for i, req := range requests {
		if _, ok := byContract[req.ContractID]; !ok {
			order = append(order, req.ContractID)
		}
		byContract[req.ContractID] = append(byContract[req.ContractID], i)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Batch.Workers)
	for _, contractID := range order {
		indexes := byContract[contractID]
		sort.SliceStable(indexes, func(a, b int) bool {
			return requests[indexes[a]].PeriodStart.Before(requests[indexes[b]].PeriodStart)
		})
		g.Go(func() error {
			for _, i := range indexes {
				results[i].set(s.generateOne(gctx, requests[i]))
			}
			return nil
		})
	}
	_ = g.Wait()

	outcome := metrics.ResultSuccess
	for _, r := range results {
		if r.err != nil {
			outcome = metrics.ResultError
			break
		}
	}
	metrics.ObserveBatch(len(requests), outcome, time.Since(start))
	return results
}

func (s *StatementService) generateOne(ctx context.Context, req BatchRequest) (*royalty.StatementRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.cfg.Batch.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Batch.Timeout)
		defer cancel()
	}
	return s.Generate(ctx, req.ContractID, req.PeriodStart, req.PeriodEnd, req.Regenerate)
}

func (r *BatchResult) set(rec *royalty.StatementRecord, err error) {
	if err != nil {
		r.err = err
		r.Error = err.Error()
		r.ErrorKind = royalty.ErrorKind(err)
		return
	}
	r.Statement = rec
}
