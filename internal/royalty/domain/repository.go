package royalty

import (
	"context"
	"errors"
	"time"
)

const (
	StatementStatusDraft     = "draft"
	StatementStatusFinalized = "finalized"
	StatementStatusVoided    = "voided"
)

var (
	// ErrAdvanceConflict is returned by StatementRepository.Finalize when the contract's
	// advance state no longer matches the state the draft was computed from.
	ErrAdvanceConflict = errors.New("royalty: contract advance state changed")
	// ErrPeriodFinalized is returned by StatementRepository.Finalize when another
	// version of the same period is finalized and not voided.
	ErrPeriodFinalized = errors.New("royalty: period already finalized")
)

// StatementRecord is a persisted statement with its workflow metadata.
type StatementRecord struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	ContractID   string    `json:"contract_id"`
	PeriodStart  time.Time `json:"period_start"`
	PeriodEnd    time.Time `json:"period_end"`
	Status       string    `json:"status"`
	Version      int       `json:"version"`
	SnapshotHash string    `json:"snapshot_hash,omitempty"`
	VoidReason   string    `json:"void_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	FinalizedAt  time.Time `json:"finalized_at,omitempty"`
	VoidedAt     time.Time `json:"voided_at,omitempty"`
	// Supersedes is the voided finalized statement this version corrects.
	Supersedes string `json:"supersedes,omitempty"`

	// Contract state the draft was computed from.
	BasisAdvanceRecouped  Money      `json:"basis_advance_recouped"`
	BasisLastFinalizedEnd *time.Time `json:"basis_last_finalized_end,omitempty"`

	Statement Statement `json:"statement"`
}

// AdvanceTransition is the compare-and-set applied to a contract on finalization.
type AdvanceTransition struct {
	ContractID            string
	ExpectedRecouped      Money
	ExpectedLastPeriodEnd *time.Time
	NewRecouped           Money
	NewLastPeriodEnd      time.Time
}

// IsCorrection reports whether the record re-issues a voided finalized statement.
func (r *StatementRecord) IsCorrection() bool { return r.Supersedes != "" }

// TransitionFor builds the advance transition a draft proposes.
func (r *StatementRecord) TransitionFor() AdvanceTransition {
	return AdvanceTransition{
		ContractID:            r.ContractID,
		ExpectedRecouped:      r.BasisAdvanceRecouped,
		ExpectedLastPeriodEnd: r.BasisLastFinalizedEnd,
		NewRecouped:           r.Statement.Advance.RecoupedAfter,
		NewLastPeriodEnd:      r.PeriodEnd,
	}
}

// SourceRepository loads the collaborator data a calculation reads.
type SourceRepository interface {
	GetContract(ctx context.Context, tenantID, contractID string) (*Contract, error)
	ListTiers(ctx context.Context, tenantID, contractID string) ([]Tier, error)
	// ListSales returns the title's sales dated in [period.Start, period.End).
	ListSales(ctx context.Context, tenantID, titleID string, period Period) ([]SalesRecord, error)
	// ListReturns returns the title's returns in the period, whatever their status.
	ListReturns(ctx context.Context, tenantID, titleID string, period Period) ([]ReturnRecord, error)
	// PriorCumulativeUnits sums sales minus approved returns per format before the given time.
	PriorCumulativeUnits(ctx context.Context, tenantID, titleID string, before time.Time) (map[string]int64, error)
	ListOwnership(ctx context.Context, tenantID, titleID string) ([]OwnershipShare, error)
}

// StatementRepository persists statements and applies finalization.
type StatementRepository interface {
	FindLatestActive(ctx context.Context, tenantID, contractID string, period Period) (*StatementRecord, error)
	// FindLatestFinalized returns the latest version of the period that was ever
	// finalized, including one voided since.
	FindLatestFinalized(ctx context.Context, tenantID, contractID string, period Period) (*StatementRecord, error)
	NextVersion(ctx context.Context, tenantID, contractID string, period Period) (int, error)
	Create(ctx context.Context, rec *StatementRecord) error
	GetByID(ctx context.Context, id string) (*StatementRecord, error)
	ListByContract(ctx context.Context, tenantID, contractID string) ([]StatementRecord, error)
	// Finalize atomically applies the advance transition and marks the statement
	// finalized. It returns ErrAdvanceConflict when the contract moved and
	// ErrPeriodFinalized when another version of the period is finalized. The
	// contract's advance recouped and last finalized end never move backwards:
	// each keeps the larger of its current and proposed value.
	Finalize(ctx context.Context, id, snapshotHash string, at time.Time, transition AdvanceTransition) error
	MarkVoided(ctx context.Context, id, reason string, at time.Time) error
}
