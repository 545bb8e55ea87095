package main

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	royalty "royalty-cloud/internal/royalty/domain"
)

func TestBuildFeedStaysInsidePeriods(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(7))
	sales, returns := buildFeed("title-1", start, 2, 50, 0.5, rng)
	if len(sales) != 100 {
		t.Fatalf("expected 100 sales, got %d", len(sales))
	}
	end := start.AddDate(0, 6, 0)
	for _, s := range sales {
		if s.SaleDate.Before(start) || !s.SaleDate.Before(end) {
			t.Fatalf("sale date %s outside seeded range", s.SaleDate)
		}
		if s.Quantity <= 0 || !s.UnitPrice.IsPositive() {
			t.Fatalf("invalid sale %+v", s)
		}
	}
	for _, r := range returns {
		if r.Status != royalty.ReturnApproved {
			t.Fatalf("unexpected return status %s", r.Status)
		}
	}
}

func TestBuildOwnershipSumsToHundred(t *testing.T) {
	for i := 0; i < 3; i++ {
		total := decimal.Zero
		for _, share := range buildOwnership(i) {
			total = total.Add(share.Percentage)
		}
		if !total.Equal(decimal.NewFromInt(100)) {
			t.Fatalf("ownership %d sums to %s", i, total)
		}
	}
}

func TestBuildContractTiersValidate(t *testing.T) {
	cfg := config{tenantID: "tenant-a", contractPrefix: "c-"}
	contract, tiers := buildContract(cfg, 0, rand.New(rand.NewSource(1)))
	if contract.ID != "c-1" || contract.TierMode != royalty.TierModePeriod {
		t.Fatalf("unexpected contract %+v", contract)
	}
	ladders, err := royalty.BuildTierLadders(contract.ID, tiers)
	if err != nil {
		t.Fatalf("tiers: %v", err)
	}
	if len(ladders) != len(formats) {
		t.Fatalf("expected %d ladders, got %d", len(formats), len(ladders))
	}
}
