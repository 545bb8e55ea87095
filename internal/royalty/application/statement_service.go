package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"royalty-cloud/internal/auth"
	"royalty-cloud/internal/observability/metrics"
	royalty "royalty-cloud/internal/royalty/domain"
)

// ErrBadRequest is returned for missing or malformed request parameters.
var ErrBadRequest = errors.New("statement service: bad request")

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// StatementService handles royalty statement workflows around the calculation engine.
type StatementService struct {
	sources   royalty.SourceRepository
	repo      royalty.StatementRepository
	publisher EventPublisher
	tenantID  string
	cfg       Config
	tolerance decimal.Decimal
	locks     *keyedMutex
	logger    *slog.Logger
	now       func() time.Time
}

// NewStatementService constructs a service. publisher may be nil.
func NewStatementService(sources royalty.SourceRepository, repo royalty.StatementRepository, publisher EventPublisher, tenantID string, cfg Config, logger *slog.Logger) (*StatementService, error) {
	if sources == nil {
		return nil, errors.New("statement service: nil source repo")
	}
	if repo == nil {
		return nil, errors.New("statement service: nil repo")
	}
	if tenantID == "" {
		return nil, errors.New("statement service: empty tenant id")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tol, _ := cfg.SplitTolerance()
	if logger == nil {
		logger = slog.Default()
	}
	return &StatementService{
		sources:   sources,
		repo:      repo,
		publisher: publisher,
		tenantID:  tenantID,
		cfg:       cfg,
		tolerance: tol,
		locks:     newKeyedMutex(),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Generate calculates a draft statement for the contract and period. An existing
// draft or finalized statement is returned unless regenerate is set. When the
// period's finalized statement has been voided, the new draft is a correction:
// it is priced from the advance state the voided statement saw and records the
// voided statement in Supersedes.
func (s *StatementService) Generate(ctx context.Context, contractID string, periodStart, periodEnd time.Time, regenerate bool) (*royalty.StatementRecord, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementGenerate(result, time.Since(start))
	}()

	rec, err := s.generate(ctx, contractID, periodStart, periodEnd, regenerate)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	return rec, nil
}

func (s *StatementService) generate(ctx context.Context, contractID string, periodStart, periodEnd time.Time, regenerate bool) (*royalty.StatementRecord, error) {
	if contractID == "" {
		return nil, fmt.Errorf("%w: contract_id required", ErrBadRequest)
	}
	period, err := royalty.NewPeriod(periodStart, periodEnd)
	if err != nil {
		return nil, err
	}
	tenantID := s.tenant(ctx)

	if !regenerate {
		existing, err := s.repo.FindLatestActive(ctx, tenantID, contractID, period)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.TenantID != tenantID {
				return nil, auth.ErrTenantMismatch
			}
			return existing, nil
		}
	}

	in, err := s.loadInput(ctx, tenantID, contractID, period)
	if err != nil {
		return nil, err
	}
	prev, err := s.repo.FindLatestFinalized(ctx, tenantID, contractID, period)
	if err != nil {
		return nil, err
	}
	var supersedes string
	if prev != nil && prev.Status == royalty.StatementStatusVoided {
		in.Contract.AdvanceRecouped = prev.BasisAdvanceRecouped
		in.Contract.LastFinalizedPeriodEnd = prev.BasisLastFinalizedEnd
		supersedes = prev.ID
	}
	stmt, err := s.calculate(in)
	if err != nil {
		s.logger.WarnContext(ctx, "statement calculation rejected",
			"contract_id", contractID, "period_start", period.Start, "kind", royalty.ErrorKind(err), "err", err)
		return nil, err
	}

	version, err := s.repo.NextVersion(ctx, tenantID, contractID, period)
	if err != nil {
		return nil, err
	}
	now := s.now()
	rec := &royalty.StatementRecord{
		ID:                    buildStatementID(tenantID, contractID, period, version),
		TenantID:              tenantID,
		ContractID:            contractID,
		PeriodStart:           period.Start,
		PeriodEnd:             period.End,
		Status:                royalty.StatementStatusDraft,
		Version:               version,
		CreatedAt:             now,
		UpdatedAt:             now,
		BasisAdvanceRecouped:  in.Contract.AdvanceRecouped,
		BasisLastFinalizedEnd: in.Contract.LastFinalizedPeriodEnd,
		Supersedes:            supersedes,
		Statement:             stmt,
	}
	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "statement draft created",
		"statement_id", rec.ID, "contract_id", contractID, "period_start", period.Start, "version", version,
		"gross", stmt.GrossRoyalty.String(), "net", stmt.NetPayable.String(), "supersedes", supersedes)
	return rec, nil
}

// Finalize commits a draft: the contract's advance state moves to the draft's
// proposal and the statement becomes immutable. Finalizations for one contract
// are serialized; a draft computed from advance state that has since moved, or
// one whose period does not start where the last finalized period ended, fails
// with a *royalty.SequenceError. A correction is checked against the statement
// it supersedes instead, and never lowers the contract's advance recouped.
func (s *StatementService) Finalize(ctx context.Context, id string) (*royalty.StatementRecord, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementFinalize(result, time.Since(start))
	}()

	rec, err := s.finalize(ctx, id)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	return rec, nil
}

func (s *StatementService) finalize(ctx context.Context, id string) (*royalty.StatementRecord, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case royalty.StatementStatusFinalized:
		return rec, nil
	case royalty.StatementStatusVoided:
		return nil, royalty.ErrStatementVoided
	}

	unlock := s.locks.Lock(rec.TenantID + "|" + rec.ContractID)
	defer unlock()

	// Re-read under the lock; another finalize may have won.
	rec, err = s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != royalty.StatementStatusDraft {
		if rec.Status == royalty.StatementStatusFinalized {
			return rec, nil
		}
		return nil, royalty.ErrStatementNotDraft
	}

	contract, err := s.sources.GetContract(ctx, rec.TenantID, rec.ContractID)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, royalty.ErrContractNotFound
	}
	transition := rec.TransitionFor()
	if rec.IsCorrection() {
		if err := s.checkCorrection(ctx, rec); err != nil {
			return nil, err
		}
		transition.ExpectedRecouped = contract.AdvanceRecouped
		transition.ExpectedLastPeriodEnd = contract.LastFinalizedPeriodEnd
	} else {
		if err := royalty.CheckContiguous(*contract, rec.Statement.Period()); err != nil {
			return nil, err
		}
		if !basisMatches(rec, contract) {
			return nil, staleDraft(rec, contract)
		}
	}

	hash, err := computeSnapshotHash(rec)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.repo.Finalize(ctx, rec.ID, hash, now, transition); err != nil {
		switch {
		case errors.Is(err, royalty.ErrAdvanceConflict):
			return nil, staleDraft(rec, contract)
		case errors.Is(err, royalty.ErrPeriodFinalized):
			return nil, periodFinalized(rec)
		}
		return nil, err
	}
	rec.Status = royalty.StatementStatusFinalized
	rec.SnapshotHash = hash
	rec.FinalizedAt = now
	rec.UpdatedAt = now

	s.logger.InfoContext(ctx, "statement finalized",
		"statement_id", rec.ID, "contract_id", rec.ContractID, "period_start", rec.PeriodStart,
		"recoupment", rec.Statement.RecoupmentApplied.String(), "advance_recouped", rec.Statement.Advance.RecoupedAfter.String(),
		"supersedes", rec.Supersedes)

	if s.publisher != nil {
		event := StatementFinalized{
			TenantID:        rec.TenantID,
			ContractID:      rec.ContractID,
			StatementID:     rec.ID,
			Version:         rec.Version,
			PeriodStart:     rec.PeriodStart,
			PeriodEnd:       rec.PeriodEnd,
			Currency:        rec.Statement.Currency,
			GrossRoyalty:    rec.Statement.GrossRoyalty,
			NetPayable:      rec.Statement.NetPayable,
			AdvanceRecouped: rec.Statement.Advance.RecoupedAfter,
			SnapshotHash:    hash,
			OccurredAt:      now,
		}
		// The statement is already committed; a lost event is logged, not returned.
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.ErrorContext(ctx, "publish statement finalized", "statement_id", rec.ID, "err", err)
		}
	}
	return rec, nil
}

// checkCorrection requires the superseded statement to still be the period's
// latest finalized version, so two corrections of one void cannot both land.
func (s *StatementService) checkCorrection(ctx context.Context, rec *royalty.StatementRecord) error {
	prev, err := s.repo.FindLatestFinalized(ctx, rec.TenantID, rec.ContractID, rec.Statement.Period())
	if err != nil {
		return err
	}
	if prev == nil || prev.ID != rec.Supersedes || prev.Status != royalty.StatementStatusVoided {
		return periodFinalized(rec)
	}
	return nil
}

// Void marks a statement voided. The contract's advance state is left as is;
// a voided finalized period is re-issued by generating a correction.
func (s *StatementService) Void(ctx context.Context, id, reason string) (*royalty.StatementRecord, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		metrics.IncStatementVoid(metrics.ResultError)
		return nil, err
	}
	if rec.Status == royalty.StatementStatusVoided {
		return rec, nil
	}
	now := s.now()
	if err := s.repo.MarkVoided(ctx, id, reason, now); err != nil {
		metrics.IncStatementVoid(metrics.ResultError)
		return nil, err
	}
	metrics.IncStatementVoid(metrics.ResultSuccess)
	rec.Status = royalty.StatementStatusVoided
	rec.VoidReason = reason
	rec.VoidedAt = now
	rec.UpdatedAt = now
	return rec, nil
}

// Get returns a statement owned by the caller's tenant.
func (s *StatementService) Get(ctx context.Context, id string) (*royalty.StatementRecord, error) {
	return s.load(ctx, id)
}

// List returns every statement version for a contract.
func (s *StatementService) List(ctx context.Context, contractID string) ([]royalty.StatementRecord, error) {
	if contractID == "" {
		return nil, fmt.Errorf("%w: contract_id required", ErrBadRequest)
	}
	return s.repo.ListByContract(ctx, s.tenant(ctx), contractID)
}

// Calculate runs the engine on caller-supplied data without persisting anything.
func (s *StatementService) Calculate(ctx context.Context, in royalty.CalculationInput) (royalty.Statement, error) {
	tenantID := s.tenant(ctx)
	if in.Contract.TenantID == "" {
		in.Contract.TenantID = tenantID
	}
	if in.Contract.TenantID != tenantID {
		return royalty.Statement{}, auth.ErrTenantMismatch
	}
	return s.calculate(in)
}

func (s *StatementService) calculate(in royalty.CalculationInput) (royalty.Statement, error) {
	if in.SplitTolerance == nil {
		tol := s.tolerance
		in.SplitTolerance = &tol
	}
	start := time.Now()
	stmt, err := royalty.CalculateStatement(in)
	metrics.ObserveCalculation(royalty.ErrorKind(err), time.Since(start))
	return stmt, err
}

func (s *StatementService) loadInput(ctx context.Context, tenantID, contractID string, period royalty.Period) (royalty.CalculationInput, error) {
	contract, err := s.sources.GetContract(ctx, tenantID, contractID)
	if err != nil {
		return royalty.CalculationInput{}, err
	}
	if contract == nil {
		return royalty.CalculationInput{}, royalty.ErrContractNotFound
	}
	if contract.TenantID != tenantID {
		return royalty.CalculationInput{}, auth.ErrTenantMismatch
	}
	if contract.Currency == "" {
		contract.Currency = s.cfg.Currency
	}
	tiers, err := s.sources.ListTiers(ctx, tenantID, contractID)
	if err != nil {
		return royalty.CalculationInput{}, err
	}
	sales, err := s.sources.ListSales(ctx, tenantID, contract.TitleID, period)
	if err != nil {
		return royalty.CalculationInput{}, err
	}
	returns, err := s.sources.ListReturns(ctx, tenantID, contract.TitleID, period)
	if err != nil {
		return royalty.CalculationInput{}, err
	}
	var prior map[string]int64
	if contract.TierMode == royalty.TierModeCumulative {
		prior, err = s.sources.PriorCumulativeUnits(ctx, tenantID, contract.TitleID, period.Start)
		if err != nil {
			return royalty.CalculationInput{}, err
		}
	}
	ownership, err := s.sources.ListOwnership(ctx, tenantID, contract.TitleID)
	if err != nil {
		return royalty.CalculationInput{}, err
	}
	return royalty.CalculationInput{
		Contract:    *contract,
		Tiers:       tiers,
		Sales:       sales,
		Returns:     returns,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		PriorUnits:  prior,
		Ownership:   ownership,
	}, nil
}

func (s *StatementService) load(ctx context.Context, id string) (*royalty.StatementRecord, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: statement id required", ErrBadRequest)
	}
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, royalty.ErrStatementNotFound
	}
	if rec.TenantID != s.tenant(ctx) {
		return nil, auth.ErrTenantMismatch
	}
	return rec, nil
}

// TenantFor returns the tenant requests in ctx act on: the caller's tenant,
// or the service tenant when the request is unauthenticated.
func (s *StatementService) TenantFor(ctx context.Context) string { return s.tenant(ctx) }

func (s *StatementService) tenant(ctx context.Context) string {
	if tenantID := auth.TenantIDFromContext(ctx); tenantID != "" {
		return tenantID
	}
	return s.tenantID
}

func basisMatches(rec *royalty.StatementRecord, contract *royalty.Contract) bool {
	if !rec.BasisAdvanceRecouped.Equal(contract.AdvanceRecouped) {
		return false
	}
	a, b := rec.BasisLastFinalizedEnd, contract.LastFinalizedPeriodEnd
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func staleDraft(rec *royalty.StatementRecord, contract *royalty.Contract) error {
	return &royalty.SequenceError{Detail: royalty.Detail{
		ContractID: rec.ContractID,
		Field:      "advance_recouped",
		Value:      contract.AdvanceRecouped.String(),
		Reason:     "draft computed from stale advance state; regenerate",
	}}
}

func periodFinalized(rec *royalty.StatementRecord) error {
	return &royalty.SequenceError{Detail: royalty.Detail{
		ContractID: rec.ContractID,
		Field:      "period_start",
		Value:      rec.PeriodStart.Format(time.DateOnly),
		Reason:     "period already finalized by another version; void it first",
	}}
}

func computeSnapshotHash(rec *royalty.StatementRecord) (string, error) {
	if rec == nil {
		return "", errors.New("statement service: nil statement")
	}
	payload := struct {
		ID          string            `json:"id"`
		ContractID  string            `json:"contract_id"`
		Version     int               `json:"version"`
		PeriodStart time.Time         `json:"period_start"`
		PeriodEnd   time.Time         `json:"period_end"`
		Supersedes  string            `json:"supersedes,omitempty"`
		Statement   royalty.Statement `json:"statement"`
	}{
		ID:          rec.ID,
		ContractID:  rec.ContractID,
		Version:     rec.Version,
		PeriodStart: rec.PeriodStart,
		PeriodEnd:   rec.PeriodEnd,
		Supersedes:  rec.Supersedes,
		Statement:   rec.Statement,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

func buildStatementID(tenantID, contractID string, period royalty.Period, version int) string {
	base := tenantID + "|" + contractID + "|" + period.Key().String() + "|" + strconv.Itoa(version)
	hash := sha256.Sum256([]byte(base))
	return "stmt-" + hex.EncodeToString(hash[:8])
}
