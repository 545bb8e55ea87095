package auth

import (
	"context"
	"errors"

	royalty "royalty-cloud/internal/royalty/domain"
)

// ContractTenantChecker validates that a contract belongs to a tenant.
type ContractTenantChecker interface {
	EnsureContractTenant(ctx context.Context, tenantID, contractID string) error
}

// ContractLookup loads contracts by tenant.
type ContractLookup interface {
	GetContract(ctx context.Context, tenantID, contractID string) (*royalty.Contract, error)
}

// ContractChecker checks contract ownership through the source repository.
type ContractChecker struct {
	contracts ContractLookup
}

// NewContractChecker constructs a ContractChecker.
func NewContractChecker(contracts ContractLookup) *ContractChecker {
	if contracts == nil {
		return nil
	}
	return &ContractChecker{contracts: contracts}
}

// EnsureContractTenant verifies the contract belongs to the tenant.
func (c *ContractChecker) EnsureContractTenant(ctx context.Context, tenantID, contractID string) error {
	if c == nil || c.contracts == nil || tenantID == "" || contractID == "" {
		return nil
	}
	contract, err := c.contracts.GetContract(ctx, tenantID, contractID)
	if errors.Is(err, royalty.ErrContractNotFound) {
		return ErrTenantMismatch
	}
	if err != nil {
		return err
	}
	if contract == nil || contract.TenantID != tenantID {
		return ErrTenantMismatch
	}
	return nil
}
