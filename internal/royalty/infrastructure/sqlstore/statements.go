package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	royalty "royalty-cloud/internal/royalty/domain"
)

const statementColumns = `id, tenant_id, contract_id, period_start, period_end, status, version,
	basis_advance_recouped, basis_last_finalized_end, snapshot_hash, void_reason, supersedes, payload,
	created_at, updated_at, finalized_at, voided_at`

// FindLatestActive returns the latest draft or finalized version for the period.
func (s *Store) FindLatestActive(ctx context.Context, tenantID, contractID string, period royalty.Period) (*royalty.StatementRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	row := s.queryRowContext(ctx, `
SELECT `+statementColumns+`
FROM royalty_statements
WHERE tenant_id = ? AND contract_id = ? AND period_start = ? AND period_end = ?
	AND status IN ('draft','finalized')
ORDER BY version DESC
LIMIT 1`, tenantID, contractID, s.dialect.timeArg(period.Start), s.dialect.timeArg(period.End))
	return scanStatement(row)
}

// FindLatestFinalized returns the latest version for the period that was ever
// finalized, whether or not it has been voided since.
func (s *Store) FindLatestFinalized(ctx context.Context, tenantID, contractID string, period royalty.Period) (*royalty.StatementRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	row := s.queryRowContext(ctx, `
SELECT `+statementColumns+`
FROM royalty_statements
WHERE tenant_id = ? AND contract_id = ? AND period_start = ? AND period_end = ?
	AND finalized_at IS NOT NULL
ORDER BY version DESC
LIMIT 1`, tenantID, contractID, s.dialect.timeArg(period.Start), s.dialect.timeArg(period.End))
	return scanStatement(row)
}

// NextVersion returns the next version number for the contract and period.
func (s *Store) NextVersion(ctx context.Context, tenantID, contractID string, period royalty.Period) (int, error) {
	if s == nil || s.db == nil {
		return 0, errNilDB
	}
	var maxVersion sql.NullInt64
	err := s.queryRowContext(ctx, `
SELECT MAX(version)
FROM royalty_statements
WHERE tenant_id = ? AND contract_id = ? AND period_start = ? AND period_end = ?`,
		tenantID, contractID, s.dialect.timeArg(period.Start), s.dialect.timeArg(period.End)).Scan(&maxVersion)
	if err != nil {
		return 0, err
	}
	if !maxVersion.Valid {
		return 1, nil
	}
	return int(maxVersion.Int64) + 1, nil
}

// Create inserts the statement header with its format lines and payee shares.
func (s *Store) Create(ctx context.Context, rec *royalty.StatementRecord) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	if rec == nil {
		return errors.New("royalty store: nil statement")
	}
	payload, err := json.Marshal(rec.Statement)
	if err != nil {
		return err
	}
	d := s.dialect
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	st := rec.Statement
	_, err = tx.ExecContext(ctx, d.rebind(`
INSERT INTO royalty_statements (
	id, tenant_id, contract_id, period_start, period_end, status, version, currency,
	gross_royalty, recoupment_applied, net_payable, basis_advance_recouped, basis_last_finalized_end,
	snapshot_hash, void_reason, supersedes, payload, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.TenantID, rec.ContractID, d.timeArg(rec.PeriodStart), d.timeArg(rec.PeriodEnd), rec.Status, rec.Version, st.Currency,
		st.GrossRoyalty, st.RecoupmentApplied, st.NetPayable, rec.BasisAdvanceRecouped, d.nullTimeArg(rec.BasisLastFinalizedEnd),
		nullString(rec.SnapshotHash), nullString(rec.VoidReason), nullString(rec.Supersedes), string(payload), d.timeArg(rec.CreatedAt), d.timeArg(rec.UpdatedAt),
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, f := range st.Formats {
		_, err := tx.ExecContext(ctx, d.rebind(`
INSERT INTO royalty_statement_lines (statement_id, format, units_sold, units_returned, net_units, gross_royalty)
VALUES (?, ?, ?, ?, ?, ?)`), rec.ID, f.Format, f.UnitsSold, f.UnitsReturned, f.NetUnits, f.GrossRoyalty)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	for _, p := range st.Payees {
		_, err := tx.ExecContext(ctx, d.rebind(`
INSERT INTO royalty_statement_payees (statement_id, payee_id, percentage, gross_royalty, recoupment_applied, net_payable)
VALUES (?, ?, ?, ?, ?, ?)`), rec.ID, p.PayeeID, p.Percentage, p.GrossRoyalty, p.RecoupmentApplied, p.NetPayable)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// GetByID fetches a statement; it returns nil, nil when none exists.
func (s *Store) GetByID(ctx context.Context, id string) (*royalty.StatementRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	row := s.queryRowContext(ctx, `
SELECT `+statementColumns+`
FROM royalty_statements
WHERE id = ?`, id)
	return scanStatement(row)
}

// ListByContract lists every version for a contract ordered by period then version.
func (s *Store) ListByContract(ctx context.Context, tenantID, contractID string) ([]royalty.StatementRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	rows, err := s.queryContext(ctx, `
SELECT `+statementColumns+`
FROM royalty_statements
WHERE tenant_id = ? AND contract_id = ?
ORDER BY period_start ASC, version ASC`, tenantID, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []royalty.StatementRecord
	for rows.Next() {
		rec, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			result = append(result, *rec)
		}
	}
	return result, rows.Err()
}

// Finalize marks the draft finalized and moves the contract's advance state in
// one transaction. Both rows are locked; the contract must still hold the
// expected state or ErrAdvanceConflict is returned and nothing changes. The
// contract row lock also orders the check that no other version of the period
// is finalized.
func (s *Store) Finalize(ctx context.Context, id, snapshotHash string, at time.Time, transition royalty.AdvanceTransition) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	d := s.dialect
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var tenantID, status string
	var periodStart, periodEnd dbTime
	err = tx.QueryRowContext(ctx, d.rebind(`
SELECT tenant_id, status, period_start, period_end
FROM royalty_statements
WHERE id = ?`+d.forUpdate()), id).Scan(&tenantID, &status, &periodStart, &periodEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return royalty.ErrStatementNotFound
	}
	if err != nil {
		return err
	}
	if status != royalty.StatementStatusDraft {
		return royalty.ErrStatementNotDraft
	}

	var recouped royalty.Money
	var lastEnd dbTime
	err = tx.QueryRowContext(ctx, d.rebind(`
SELECT advance_recouped, last_finalized_period_end
FROM contracts
WHERE tenant_id = ? AND id = ?`+d.forUpdate()), tenantID, transition.ContractID).Scan(&recouped, &lastEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return royalty.ErrContractNotFound
	}
	if err != nil {
		return err
	}
	if !recouped.Equal(transition.ExpectedRecouped) || !sameTime(lastEnd.ptr(), transition.ExpectedLastPeriodEnd) {
		return royalty.ErrAdvanceConflict
	}

	var finalized int
	err = tx.QueryRowContext(ctx, d.rebind(`
SELECT COUNT(*)
FROM royalty_statements
WHERE tenant_id = ? AND contract_id = ? AND period_start = ? AND period_end = ?
	AND status = ? AND id <> ?`),
		tenantID, transition.ContractID, d.timeArg(periodStart.Time), d.timeArg(periodEnd.Time), royalty.StatementStatusFinalized, id).Scan(&finalized)
	if err != nil {
		return err
	}
	if finalized > 0 {
		return royalty.ErrPeriodFinalized
	}

	newRecouped := recouped
	if transition.NewRecouped.Cmp(recouped) > 0 {
		newRecouped = transition.NewRecouped
	}
	newEnd := transition.NewLastPeriodEnd
	if lastEnd.Valid && lastEnd.Time.After(newEnd) {
		newEnd = lastEnd.Time
	}
	if _, err := tx.ExecContext(ctx, d.rebind(`
UPDATE contracts
SET advance_recouped = ?, last_finalized_period_end = ?, updated_at = ?
WHERE tenant_id = ? AND id = ?`),
		newRecouped, d.timeArg(newEnd), d.timeArg(at), tenantID, transition.ContractID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, d.rebind(`
UPDATE royalty_statements
SET status = ?, snapshot_hash = ?, finalized_at = ?, updated_at = ?
WHERE id = ?`), royalty.StatementStatusFinalized, snapshotHash, d.timeArg(at), d.timeArg(at), id); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkVoided marks a statement voided.
func (s *Store) MarkVoided(ctx context.Context, id, reason string, at time.Time) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	res, err := s.execContext(ctx, `
UPDATE royalty_statements
SET status = ?, void_reason = ?, voided_at = ?, updated_at = ?
WHERE id = ?`, royalty.StatementStatusVoided, reason, s.dialect.timeArg(at), s.dialect.timeArg(at), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return royalty.ErrStatementNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStatement(row rowScanner) (*royalty.StatementRecord, error) {
	var rec royalty.StatementRecord
	var periodStart, periodEnd, basisEnd, createdAt, updatedAt, finalizedAt, voidedAt dbTime
	var snapshot, voidReason, supersedes sql.NullString
	var payload []byte
	err := row.Scan(
		&rec.ID,
		&rec.TenantID,
		&rec.ContractID,
		&periodStart,
		&periodEnd,
		&rec.Status,
		&rec.Version,
		&rec.BasisAdvanceRecouped,
		&basisEnd,
		&snapshot,
		&voidReason,
		&supersedes,
		&payload,
		&createdAt,
		&updatedAt,
		&finalizedAt,
		&voidedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(payload, &rec.Statement); err != nil {
		return nil, err
	}
	rec.PeriodStart = periodStart.Time
	rec.PeriodEnd = periodEnd.Time
	rec.BasisLastFinalizedEnd = basisEnd.ptr()
	rec.SnapshotHash = snapshot.String
	rec.VoidReason = voidReason.String
	rec.Supersedes = supersedes.String
	rec.CreatedAt = createdAt.Time
	rec.UpdatedAt = updatedAt.Time
	rec.FinalizedAt = finalizedAt.Time
	rec.VoidedAt = voidedAt.Time
	return &rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
