package sqlstore

import (
	"context"
	"database/sql"
	"time"

	royalty "royalty-cloud/internal/royalty/domain"
)

// UpsertContract writes a contract and replaces its tier table. Used by imports
// and tests; the advance state of an existing contract is overwritten.
func (s *Store) UpsertContract(ctx context.Context, c royalty.Contract, tiers []royalty.Tier) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := s.dialect.timeArg(time.Now())
	_, err = tx.ExecContext(ctx, s.dialect.rebind(`
INSERT INTO contracts (
	id, tenant_id, title_id, status, tier_mode, currency,
	advance_amount, advance_paid, advance_recouped, last_finalized_period_end, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, id) DO UPDATE SET
	title_id = excluded.title_id,
	status = excluded.status,
	tier_mode = excluded.tier_mode,
	currency = excluded.currency,
	advance_amount = excluded.advance_amount,
	advance_paid = excluded.advance_paid,
	advance_recouped = excluded.advance_recouped,
	last_finalized_period_end = excluded.last_finalized_period_end,
	updated_at = excluded.updated_at`),
		c.ID, c.TenantID, c.TitleID, string(c.Status), string(c.TierMode), c.Currency,
		c.AdvanceAmount, c.AdvancePaid, c.AdvanceRecouped, s.dialect.nullTimeArg(c.LastFinalizedPeriodEnd), now, now)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM contract_tiers WHERE tenant_id = ? AND contract_id = ?`), c.TenantID, c.ID); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, t := range tiers {
		var maxQty sql.NullInt64
		if t.MaxQuantity != nil {
			maxQty = sql.NullInt64{Int64: *t.MaxQuantity, Valid: true}
		}
		_, err := tx.ExecContext(ctx, s.dialect.rebind(`
INSERT INTO contract_tiers (tenant_id, contract_id, format, min_quantity, max_quantity, rate)
VALUES (?, ?, ?, ?, ?, ?)`), c.TenantID, c.ID, t.Format, t.MinQuantity, maxQty, t.Rate)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// InsertSales appends sales records; records already present are ignored.
func (s *Store) InsertSales(ctx context.Context, tenantID string, records ...royalty.SalesRecord) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	for _, r := range records {
		_, err := s.execContext(ctx, `
INSERT INTO sales_records (id, tenant_id, title_id, format, quantity, unit_price, sale_date, channel)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, id) DO NOTHING`,
			r.ID, tenantID, r.TitleID, r.Format, r.Quantity, r.UnitPrice, s.dialect.timeArg(r.SaleDate), r.Channel)
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertReturns appends return records; an existing record's status is updated.
func (s *Store) InsertReturns(ctx context.Context, tenantID string, records ...royalty.ReturnRecord) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	for _, r := range records {
		_, err := s.execContext(ctx, `
INSERT INTO return_records (id, tenant_id, title_id, format, quantity, unit_price, return_date, channel, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, id) DO UPDATE SET status = excluded.status`,
			r.ID, tenantID, r.TitleID, r.Format, r.Quantity, r.UnitPrice, s.dialect.timeArg(r.ReturnDate), r.Channel, string(r.Status))
		if err != nil {
			return err
		}
	}
	return nil
}

// ReplaceOwnership replaces a title's ownership split.
func (s *Store) ReplaceOwnership(ctx context.Context, tenantID, titleID string, shares []royalty.OwnershipShare) error {
	if s == nil || s.db == nil {
		return errNilDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM ownership_splits WHERE tenant_id = ? AND title_id = ?`), tenantID, titleID); err != nil {
		_ = tx.Rollback()
		return err
	}
	for i, share := range shares {
		_, err := tx.ExecContext(ctx, s.dialect.rebind(`
INSERT INTO ownership_splits (tenant_id, title_id, position, payee_id, payee_name, percentage)
VALUES (?, ?, ?, ?, ?, ?)`), tenantID, titleID, i, share.PayeeID, share.PayeeName, share.Percentage)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
