package application

import (
	"context"

	royalty "royalty-cloud/internal/royalty/domain"
)

// Verification compares a stored statement with a recalculation over the
// current source data, starting from the advance state the statement was built on.
type Verification struct {
	StatementID      string        `json:"statement_id"`
	ContractID       string        `json:"contract_id"`
	Status           string        `json:"status"`
	Version          int           `json:"version"`
	StoredGross      royalty.Money `json:"stored_gross"`
	RecomputedGross  royalty.Money `json:"recomputed_gross"`
	StoredNet        royalty.Money `json:"stored_net"`
	RecomputedNet    royalty.Money `json:"recomputed_net"`
	StoredDigest     string        `json:"stored_inputs_digest"`
	RecomputedDigest string        `json:"recomputed_inputs_digest"`
	// HashValid is false only for a finalized statement whose snapshot hash no longer matches its content.
	HashValid bool     `json:"hash_valid"`
	Drift     []string `json:"drift,omitempty"`
}

// Matches reports whether the recalculation reproduced the stored statement.
func (v Verification) Matches() bool { return len(v.Drift) == 0 }

// Verify recalculates a stored statement. Late sales or returns inside the
// period, or edited tiers or ownership, show up as drift.
func (s *StatementService) Verify(ctx context.Context, id string) (*Verification, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	in, err := s.loadInput(ctx, rec.TenantID, rec.ContractID, rec.Statement.Period())
	if err != nil {
		return nil, err
	}
	in.Contract.AdvanceRecouped = rec.BasisAdvanceRecouped
	in.Contract.LastFinalizedPeriodEnd = rec.BasisLastFinalizedEnd

	stored := rec.Statement
	v := &Verification{
		StatementID:  rec.ID,
		ContractID:   rec.ContractID,
		Status:       rec.Status,
		Version:      rec.Version,
		StoredGross:  stored.GrossRoyalty,
		StoredNet:    stored.NetPayable,
		StoredDigest: stored.Trace.InputsDigest,
		HashValid:    true,
	}
	if rec.Status == royalty.StatementStatusFinalized {
		hash, err := computeSnapshotHash(rec)
		if err != nil {
			return nil, err
		}
		v.HashValid = hash == rec.SnapshotHash
		if !v.HashValid {
			v.Drift = append(v.Drift, "snapshot_hash")
		}
	}

	fresh, err := s.calculate(in)
	if err != nil {
		v.Drift = append(v.Drift, "calculation: "+err.Error())
		return v, nil
	}
	v.RecomputedGross = fresh.GrossRoyalty
	v.RecomputedNet = fresh.NetPayable
	v.RecomputedDigest = fresh.Trace.InputsDigest
	if v.StoredDigest != v.RecomputedDigest {
		v.Drift = append(v.Drift, "inputs_digest")
	}
	if !stored.GrossRoyalty.Equal(fresh.GrossRoyalty) {
		v.Drift = append(v.Drift, "gross_royalty")
	}
	if !stored.RecoupmentApplied.Equal(fresh.RecoupmentApplied) {
		v.Drift = append(v.Drift, "recoupment_applied")
	}
	if !stored.NetPayable.Equal(fresh.NetPayable) {
		v.Drift = append(v.Drift, "net_payable")
	}
	if len(v.Drift) > 0 {
		s.logger.WarnContext(ctx, "statement drift", "statement_id", rec.ID, "contract_id", rec.ContractID, "drift", v.Drift)
	}
	return v, nil
}
