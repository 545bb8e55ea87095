package application

import (
	"time"

	royalty "royalty-cloud/internal/royalty/domain"
)

// StatementFinalized is published once a statement's advance transition is committed.
// Payment issuance and document delivery consume it downstream.
type StatementFinalized struct {
	TenantID        string        `json:"tenant_id"`
	ContractID      string        `json:"contract_id"`
	StatementID     string        `json:"statement_id"`
	Version         int           `json:"version"`
	PeriodStart     time.Time     `json:"period_start"`
	PeriodEnd       time.Time     `json:"period_end"`
	Currency        string        `json:"currency"`
	GrossRoyalty    royalty.Money `json:"gross_royalty"`
	NetPayable      royalty.Money `json:"net_payable"`
	AdvanceRecouped royalty.Money `json:"advance_recouped"`
	SnapshotHash    string        `json:"snapshot_hash"`
	OccurredAt      time.Time     `json:"occurred_at"`
}
