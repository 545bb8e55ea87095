package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	royalty "royalty-cloud/internal/royalty/domain"
)

var errNilDB = errors.New("royalty store: nil db")

// Store implements royalty.SourceRepository and royalty.StatementRepository
// on database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New constructs a store. The schema must already exist (see Migrate).
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) queryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) execContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

// GetContract loads a contract with its advance state.
func (s *Store) GetContract(ctx context.Context, tenantID, contractID string) (*royalty.Contract, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	row := s.queryRowContext(ctx, `
SELECT id, tenant_id, title_id, status, tier_mode, currency,
	advance_amount, advance_paid, advance_recouped, last_finalized_period_end
FROM contracts
WHERE tenant_id = ? AND id = ?`, tenantID, contractID)

	var c royalty.Contract
	var status, mode string
	var lastEnd dbTime
	err := row.Scan(&c.ID, &c.TenantID, &c.TitleID, &status, &mode, &c.Currency,
		&c.AdvanceAmount, &c.AdvancePaid, &c.AdvanceRecouped, &lastEnd)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, royalty.ErrContractNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Status = royalty.ContractStatus(status)
	c.TierMode = royalty.TierMode(mode)
	c.LastFinalizedPeriodEnd = lastEnd.ptr()
	return &c, nil
}

// ListTiers returns the contract's tier rows ordered by format and minimum.
func (s *Store) ListTiers(ctx context.Context, tenantID, contractID string) ([]royalty.Tier, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	rows, err := s.queryContext(ctx, `
SELECT format, min_quantity, max_quantity, rate
FROM contract_tiers
WHERE tenant_id = ? AND contract_id = ?
ORDER BY format ASC, min_quantity ASC`, tenantID, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []royalty.Tier
	for rows.Next() {
		var t royalty.Tier
		var maxQty sql.NullInt64
		if err := rows.Scan(&t.Format, &t.MinQuantity, &maxQty, &t.Rate); err != nil {
			return nil, err
		}
		if maxQty.Valid {
			t.MaxQuantity = royalty.Int64Ptr(maxQty.Int64)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// ListSales returns the title's sales in [period.Start, period.End).
func (s *Store) ListSales(ctx context.Context, tenantID, titleID string, period royalty.Period) ([]royalty.SalesRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	rows, err := s.queryContext(ctx, `
SELECT id, title_id, format, quantity, unit_price, sale_date, channel
FROM sales_records
WHERE tenant_id = ? AND title_id = ? AND sale_date >= ? AND sale_date < ?
ORDER BY sale_date ASC, id ASC`, tenantID, titleID, s.dialect.timeArg(period.Start), s.dialect.timeArg(period.End))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []royalty.SalesRecord
	for rows.Next() {
		var r royalty.SalesRecord
		var at dbTime
		if err := rows.Scan(&r.ID, &r.TitleID, &r.Format, &r.Quantity, &r.UnitPrice, &at, &r.Channel); err != nil {
			return nil, err
		}
		r.SaleDate = at.Time
		result = append(result, r)
	}
	return result, rows.Err()
}

// ListReturns returns the title's returns in the period with every status;
// the engine excludes the ones not approved.
func (s *Store) ListReturns(ctx context.Context, tenantID, titleID string, period royalty.Period) ([]royalty.ReturnRecord, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	rows, err := s.queryContext(ctx, `
SELECT id, title_id, format, quantity, unit_price, return_date, channel, status
FROM return_records
WHERE tenant_id = ? AND title_id = ? AND return_date >= ? AND return_date < ?
ORDER BY return_date ASC, id ASC`, tenantID, titleID, s.dialect.timeArg(period.Start), s.dialect.timeArg(period.End))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []royalty.ReturnRecord
	for rows.Next() {
		var r royalty.ReturnRecord
		var at dbTime
		var status string
		if err := rows.Scan(&r.ID, &r.TitleID, &r.Format, &r.Quantity, &r.UnitPrice, &at, &r.Channel, &status); err != nil {
			return nil, err
		}
		r.ReturnDate = at.Time
		r.Status = royalty.ReturnStatus(status)
		result = append(result, r)
	}
	return result, rows.Err()
}

// PriorCumulativeUnits sums sales minus approved returns per format dated before the given time.
func (s *Store) PriorCumulativeUnits(ctx context.Context, tenantID, titleID string, before time.Time) (map[string]int64, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	rows, err := s.queryContext(ctx, `
SELECT format, SUM(units) FROM (
	SELECT format, quantity AS units
	FROM sales_records
	WHERE tenant_id = ? AND title_id = ? AND sale_date < ?
	UNION ALL
	SELECT format, -quantity AS units
	FROM return_records
	WHERE tenant_id = ? AND title_id = ? AND return_date < ? AND status = 'approved'
) movements
GROUP BY format`,
		tenantID, titleID, s.dialect.timeArg(before),
		tenantID, titleID, s.dialect.timeArg(before))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := make(map[string]int64)
	for rows.Next() {
		var format string
		var total int64
		if err := rows.Scan(&format, &total); err != nil {
			return nil, err
		}
		units[format] = total
	}
	return units, rows.Err()
}

// ListOwnership returns the title's ownership split in stored order.
func (s *Store) ListOwnership(ctx context.Context, tenantID, titleID string) ([]royalty.OwnershipShare, error) {
	if s == nil || s.db == nil {
		return nil, errNilDB
	}
	rows, err := s.queryContext(ctx, `
SELECT payee_id, payee_name, percentage
FROM ownership_splits
WHERE tenant_id = ? AND title_id = ?
ORDER BY position ASC, payee_id ASC`, tenantID, titleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []royalty.OwnershipShare
	for rows.Next() {
		var share royalty.OwnershipShare
		if err := rows.Scan(&share.PayeeID, &share.PayeeName, &share.Percentage); err != nil {
			return nil, err
		}
		result = append(result, share)
	}
	return result, rows.Err()
}
