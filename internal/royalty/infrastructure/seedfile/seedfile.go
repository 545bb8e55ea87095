// Package seedfile loads contracts and sales feeds from a YAML file into a store.
// It is meant for local runs against the embedded or in-memory store.
package seedfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	royalty "royalty-cloud/internal/royalty/domain"
	"royalty-cloud/internal/royalty/infrastructure/memory"
)

// File is the YAML document layout.
type File struct {
	TenantID  string                 `yaml:"tenant_id"`
	Contracts []Contract             `yaml:"contracts"`
	Sales     []Sale                 `yaml:"sales"`
	Returns   []Return               `yaml:"returns"`
	Ownership map[string][]Ownership `yaml:"ownership"`
}

type Contract struct {
	ID              string `yaml:"id"`
	TitleID         string `yaml:"title_id"`
	Status          string `yaml:"status"`
	TierMode        string `yaml:"tier_mode"`
	Currency        string `yaml:"currency"`
	AdvanceAmount   string `yaml:"advance_amount"`
	AdvancePaid     string `yaml:"advance_paid"`
	AdvanceRecouped string `yaml:"advance_recouped"`
	Tiers           []Tier `yaml:"tiers"`
}

type Tier struct {
	Format      string `yaml:"format"`
	MinQuantity int64  `yaml:"min_quantity"`
	MaxQuantity *int64 `yaml:"max_quantity"`
	Rate        string `yaml:"rate"`
}

type Sale struct {
	ID        string `yaml:"id"`
	TitleID   string `yaml:"title_id"`
	Format    string `yaml:"format"`
	Quantity  int64  `yaml:"quantity"`
	UnitPrice string `yaml:"unit_price"`
	Date      string `yaml:"date"`
	Channel   string `yaml:"channel"`
}

type Return struct {
	Sale   `yaml:",inline"`
	Status string `yaml:"status"`
}

type Ownership struct {
	PayeeID    string `yaml:"payee_id"`
	PayeeName  string `yaml:"payee_name"`
	Percentage string `yaml:"percentage"`
}

// Target receives decoded records.
type Target interface {
	UpsertContract(ctx context.Context, c royalty.Contract, tiers []royalty.Tier) error
	InsertSales(ctx context.Context, tenantID string, records ...royalty.SalesRecord) error
	InsertReturns(ctx context.Context, tenantID string, records ...royalty.ReturnRecord) error
	ReplaceOwnership(ctx context.Context, tenantID, titleID string, shares []royalty.OwnershipShare) error
}

// Summary counts what Apply wrote.
type Summary struct {
	Contracts int
	Sales     int
	Returns   int
	Titles    int
}

// Load reads and decodes a seed file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a seed document.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("seedfile: %w", err)
	}
	return &f, nil
}

// Apply writes the file's records for tenantID, or for the file's own tenant_id when set.
func Apply(ctx context.Context, target Target, f *File, tenantID string) (Summary, error) {
	var sum Summary
	if target == nil || f == nil {
		return sum, errors.New("seedfile: nil target or file")
	}
	if f.TenantID != "" {
		tenantID = f.TenantID
	}
	for _, c := range f.Contracts {
		contract, tiers, err := c.decode(tenantID)
		if err != nil {
			return sum, err
		}
		if err := target.UpsertContract(ctx, contract, tiers); err != nil {
			return sum, fmt.Errorf("seedfile: contract %s: %w", c.ID, err)
		}
		sum.Contracts++
	}

	sales := make([]royalty.SalesRecord, 0, len(f.Sales))
	for _, s := range f.Sales {
		rec, err := s.decode()
		if err != nil {
			return sum, err
		}
		sales = append(sales, rec)
	}
	if len(sales) > 0 {
		if err := target.InsertSales(ctx, tenantID, sales...); err != nil {
			return sum, fmt.Errorf("seedfile: sales: %w", err)
		}
	}
	sum.Sales = len(sales)

	returns := make([]royalty.ReturnRecord, 0, len(f.Returns))
	for _, r := range f.Returns {
		sale, err := r.Sale.decode()
		if err != nil {
			return sum, err
		}
		status := royalty.ReturnStatus(r.Status)
		if status == "" {
			status = royalty.ReturnApproved
		}
		returns = append(returns, royalty.ReturnRecord{
			ID:         sale.ID,
			TitleID:    sale.TitleID,
			Format:     sale.Format,
			Quantity:   sale.Quantity,
			UnitPrice:  sale.UnitPrice,
			ReturnDate: sale.SaleDate,
			Channel:    sale.Channel,
			Status:     status,
		})
	}
	if len(returns) > 0 {
		if err := target.InsertReturns(ctx, tenantID, returns...); err != nil {
			return sum, fmt.Errorf("seedfile: returns: %w", err)
		}
	}
	sum.Returns = len(returns)

	for titleID, owners := range f.Ownership {
		shares := make([]royalty.OwnershipShare, 0, len(owners))
		for _, o := range owners {
			pct, err := decimal.NewFromString(o.Percentage)
			if err != nil {
				return sum, fmt.Errorf("seedfile: ownership %s/%s: %w", titleID, o.PayeeID, err)
			}
			shares = append(shares, royalty.OwnershipShare{PayeeID: o.PayeeID, PayeeName: o.PayeeName, Percentage: pct})
		}
		if err := target.ReplaceOwnership(ctx, tenantID, titleID, shares); err != nil {
			return sum, fmt.Errorf("seedfile: ownership %s: %w", titleID, err)
		}
		sum.Titles++
	}
	return sum, nil
}

func (c Contract) decode(tenantID string) (royalty.Contract, []royalty.Tier, error) {
	contract := royalty.Contract{
		ID:       c.ID,
		TenantID: tenantID,
		TitleID:  c.TitleID,
		Status:   royalty.ContractStatus(c.Status),
		TierMode: royalty.TierMode(c.TierMode),
		Currency: c.Currency,
	}
	if contract.Status == "" {
		contract.Status = royalty.ContractActive
	}
	if contract.TierMode == "" {
		contract.TierMode = royalty.TierModePeriod
	}
	var err error
	if contract.AdvanceAmount, err = money(c.AdvanceAmount); err != nil {
		return contract, nil, fmt.Errorf("seedfile: contract %s advance_amount: %w", c.ID, err)
	}
	if contract.AdvancePaid, err = money(c.AdvancePaid); err != nil {
		return contract, nil, fmt.Errorf("seedfile: contract %s advance_paid: %w", c.ID, err)
	}
	if contract.AdvanceRecouped, err = money(c.AdvanceRecouped); err != nil {
		return contract, nil, fmt.Errorf("seedfile: contract %s advance_recouped: %w", c.ID, err)
	}
	tiers := make([]royalty.Tier, 0, len(c.Tiers))
	for _, t := range c.Tiers {
		rate, err := royalty.ParseRate(t.Rate)
		if err != nil {
			return contract, nil, fmt.Errorf("seedfile: contract %s tier %s: %w", c.ID, t.Format, err)
		}
		tiers = append(tiers, royalty.Tier{Format: t.Format, MinQuantity: t.MinQuantity, MaxQuantity: t.MaxQuantity, Rate: rate})
	}
	return contract, tiers, nil
}

func (s Sale) decode() (royalty.SalesRecord, error) {
	price, err := money(s.UnitPrice)
	if err != nil {
		return royalty.SalesRecord{}, fmt.Errorf("seedfile: record %s unit_price: %w", s.ID, err)
	}
	at, err := parseDate(s.Date)
	if err != nil {
		return royalty.SalesRecord{}, fmt.Errorf("seedfile: record %s date: %w", s.ID, err)
	}
	return royalty.SalesRecord{
		ID:        s.ID,
		TitleID:   s.TitleID,
		Format:    s.Format,
		Quantity:  s.Quantity,
		UnitPrice: price,
		SaleDate:  at,
		Channel:   s.Channel,
	}, nil
}

func money(value string) (royalty.Money, error) {
	if value == "" {
		return royalty.Money{}, nil
	}
	return royalty.ParseMoney(value)
}

func parseDate(value string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}

// MemoryTarget adapts the in-memory store to Target.
func MemoryTarget(store *memory.Store) Target { return memoryTarget{store} }

type memoryTarget struct{ store *memory.Store }

func (m memoryTarget) UpsertContract(_ context.Context, c royalty.Contract, tiers []royalty.Tier) error {
	m.store.PutContract(c, tiers)
	return nil
}

func (m memoryTarget) InsertSales(_ context.Context, tenantID string, records ...royalty.SalesRecord) error {
	m.store.AddSales(tenantID, records...)
	return nil
}

func (m memoryTarget) InsertReturns(_ context.Context, tenantID string, records ...royalty.ReturnRecord) error {
	m.store.AddReturns(tenantID, records...)
	return nil
}

func (m memoryTarget) ReplaceOwnership(_ context.Context, tenantID, titleID string, shares []royalty.OwnershipShare) error {
	m.store.SetOwnership(tenantID, titleID, shares)
	return nil
}
