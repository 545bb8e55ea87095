package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	royalty "royalty-cloud/internal/royalty/domain"
)

// Store is an in-memory source and statement repository. Finalize updates the
// contract held by the same store, so both sides stay consistent.
type Store struct {
	mu         sync.RWMutex
	contracts  map[string]royalty.Contract
	tiers      map[string][]royalty.Tier
	sales      []tenantSale
	returns    []tenantReturn
	ownership  map[string][]royalty.OwnershipShare
	statements map[string]royalty.StatementRecord
}

type tenantSale struct {
	tenantID string
	royalty.SalesRecord
}

type tenantReturn struct {
	tenantID string
	royalty.ReturnRecord
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		contracts:  make(map[string]royalty.Contract),
		tiers:      make(map[string][]royalty.Tier),
		ownership:  make(map[string][]royalty.OwnershipShare),
		statements: make(map[string]royalty.StatementRecord),
	}
}

func key(tenantID, id string) string { return tenantID + "|" + id }

// PutContract stores or replaces a contract and its tier table.
func (s *Store) PutContract(contract royalty.Contract, tiers []royalty.Tier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[key(contract.TenantID, contract.ID)] = contract
	s.tiers[key(contract.TenantID, contract.ID)] = append([]royalty.Tier(nil), tiers...)
}

// AddSales appends sales records for a tenant.
func (s *Store) AddSales(tenantID string, records ...royalty.SalesRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.sales = append(s.sales, tenantSale{tenantID: tenantID, SalesRecord: r})
	}
}

// AddReturns appends return records for a tenant.
func (s *Store) AddReturns(tenantID string, records ...royalty.ReturnRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.returns = append(s.returns, tenantReturn{tenantID: tenantID, ReturnRecord: r})
	}
}

// SetOwnership replaces the ownership split of a title.
func (s *Store) SetOwnership(tenantID, titleID string, shares []royalty.OwnershipShare) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ownership[key(tenantID, titleID)] = append([]royalty.OwnershipShare(nil), shares...)
}

// GetContract implements royalty.SourceRepository.
func (s *Store) GetContract(_ context.Context, tenantID, contractID string) (*royalty.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[key(tenantID, contractID)]
	if !ok {
		return nil, royalty.ErrContractNotFound
	}
	return &c, nil
}

// ListTiers implements royalty.SourceRepository.
func (s *Store) ListTiers(_ context.Context, tenantID, contractID string) ([]royalty.Tier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]royalty.Tier(nil), s.tiers[key(tenantID, contractID)]...), nil
}

// ListSales implements royalty.SourceRepository.
func (s *Store) ListSales(_ context.Context, tenantID, titleID string, period royalty.Period) ([]royalty.SalesRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []royalty.SalesRecord
	for _, r := range s.sales {
		if r.tenantID == tenantID && r.TitleID == titleID && period.Contains(r.SaleDate) {
			out = append(out, r.SalesRecord)
		}
	}
	return out, nil
}

// ListReturns implements royalty.SourceRepository.
func (s *Store) ListReturns(_ context.Context, tenantID, titleID string, period royalty.Period) ([]royalty.ReturnRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []royalty.ReturnRecord
	for _, r := range s.returns {
		if r.tenantID == tenantID && r.TitleID == titleID && period.Contains(r.ReturnDate) {
			out = append(out, r.ReturnRecord)
		}
	}
	return out, nil
}

// PriorCumulativeUnits implements royalty.SourceRepository.
func (s *Store) PriorCumulativeUnits(_ context.Context, tenantID, titleID string, before time.Time) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	units := make(map[string]int64)
	for _, r := range s.sales {
		if r.tenantID == tenantID && r.TitleID == titleID && r.SaleDate.Before(before) {
			units[r.Format] += r.Quantity
		}
	}
	for _, r := range s.returns {
		if r.tenantID == tenantID && r.TitleID == titleID && r.Status == royalty.ReturnApproved && r.ReturnDate.Before(before) {
			units[r.Format] -= r.Quantity
		}
	}
	return units, nil
}

// ListOwnership implements royalty.SourceRepository.
func (s *Store) ListOwnership(_ context.Context, tenantID, titleID string) ([]royalty.OwnershipShare, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]royalty.OwnershipShare(nil), s.ownership[key(tenantID, titleID)]...), nil
}

// FindLatestActive implements royalty.StatementRepository.
func (s *Store) FindLatestActive(_ context.Context, tenantID, contractID string, period royalty.Period) (*royalty.StatementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *royalty.StatementRecord
	for _, rec := range s.statements {
		if !samePeriod(rec, tenantID, contractID, period) || rec.Status == royalty.StatementStatusVoided {
			continue
		}
		if latest == nil || rec.Version > latest.Version {
			r := rec
			latest = &r
		}
	}
	return latest, nil
}

// FindLatestFinalized implements royalty.StatementRepository.
func (s *Store) FindLatestFinalized(_ context.Context, tenantID, contractID string, period royalty.Period) (*royalty.StatementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *royalty.StatementRecord
	for _, rec := range s.statements {
		if !samePeriod(rec, tenantID, contractID, period) || rec.FinalizedAt.IsZero() {
			continue
		}
		if latest == nil || rec.Version > latest.Version {
			r := rec
			latest = &r
		}
	}
	return latest, nil
}

// NextVersion implements royalty.StatementRepository.
func (s *Store) NextVersion(_ context.Context, tenantID, contractID string, period royalty.Period) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	version := 0
	for _, rec := range s.statements {
		if samePeriod(rec, tenantID, contractID, period) && rec.Version > version {
			version = rec.Version
		}
	}
	return version + 1, nil
}

// Create implements royalty.StatementRepository.
func (s *Store) Create(_ context.Context, rec *royalty.StatementRecord) error {
	if rec == nil {
		return errors.New("memory store: nil statement")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.statements[rec.ID]; ok {
		return errors.New("memory store: duplicate statement id")
	}
	s.statements[rec.ID] = *rec
	return nil
}

// GetByID implements royalty.StatementRepository.
func (s *Store) GetByID(_ context.Context, id string) (*royalty.StatementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.statements[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// ListByContract implements royalty.StatementRepository.
func (s *Store) ListByContract(_ context.Context, tenantID, contractID string) ([]royalty.StatementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []royalty.StatementRecord
	for _, rec := range s.statements {
		if rec.TenantID == tenantID && rec.ContractID == contractID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PeriodStart.Equal(out[j].PeriodStart) {
			return out[i].PeriodStart.Before(out[j].PeriodStart)
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// Finalize implements royalty.StatementRepository.
func (s *Store) Finalize(_ context.Context, id, snapshotHash string, at time.Time, transition royalty.AdvanceTransition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.statements[id]
	if !ok {
		return royalty.ErrStatementNotFound
	}
	if rec.Status != royalty.StatementStatusDraft {
		return royalty.ErrStatementNotDraft
	}
	ck := key(rec.TenantID, transition.ContractID)
	contract, ok := s.contracts[ck]
	if !ok {
		return royalty.ErrContractNotFound
	}
	if !contract.AdvanceRecouped.Equal(transition.ExpectedRecouped) || !sameTime(contract.LastFinalizedPeriodEnd, transition.ExpectedLastPeriodEnd) {
		return royalty.ErrAdvanceConflict
	}
	for _, other := range s.statements {
		if other.ID != id && other.Status == royalty.StatementStatusFinalized &&
			samePeriod(other, rec.TenantID, rec.ContractID, royalty.Period{Start: rec.PeriodStart, End: rec.PeriodEnd}) {
			return royalty.ErrPeriodFinalized
		}
	}
	if transition.NewRecouped.Cmp(contract.AdvanceRecouped) > 0 {
		contract.AdvanceRecouped = transition.NewRecouped
	}
	if contract.LastFinalizedPeriodEnd == nil || transition.NewLastPeriodEnd.After(*contract.LastFinalizedPeriodEnd) {
		end := transition.NewLastPeriodEnd
		contract.LastFinalizedPeriodEnd = &end
	}
	s.contracts[ck] = contract

	rec.Status = royalty.StatementStatusFinalized
	rec.SnapshotHash = snapshotHash
	rec.FinalizedAt = at
	rec.UpdatedAt = at
	s.statements[id] = rec
	return nil
}

// MarkVoided implements royalty.StatementRepository.
func (s *Store) MarkVoided(_ context.Context, id, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.statements[id]
	if !ok {
		return royalty.ErrStatementNotFound
	}
	rec.Status = royalty.StatementStatusVoided
	rec.VoidReason = reason
	rec.VoidedAt = at
	rec.UpdatedAt = at
	s.statements[id] = rec
	return nil
}

func samePeriod(rec royalty.StatementRecord, tenantID, contractID string, period royalty.Period) bool {
	return rec.TenantID == tenantID && rec.ContractID == contractID &&
		rec.PeriodStart.Equal(period.Start) && rec.PeriodEnd.Equal(period.End)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
