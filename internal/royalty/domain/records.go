package royalty

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReturnStatus is the approval state of a return.
type ReturnStatus string

const (
	ReturnPending  ReturnStatus = "pending"
	ReturnApproved ReturnStatus = "approved"
	ReturnRejected ReturnStatus = "rejected"
)

// SalesRecord is one reported sale.
type SalesRecord struct {
	ID        string    `json:"id"`
	TitleID   string    `json:"title_id"`
	Format    string    `json:"format"`
	Quantity  int64     `json:"quantity"`
	UnitPrice Money     `json:"unit_price"`
	SaleDate  time.Time `json:"sale_date"`
	Channel   string    `json:"channel,omitempty"`
}

// Amount is quantity times unit price.
func (r SalesRecord) Amount() Money { return r.UnitPrice.MulUnits(r.Quantity) }

// ReturnRecord is one reported return of units.
type ReturnRecord struct {
	ID         string       `json:"id"`
	TitleID    string       `json:"title_id"`
	Format     string       `json:"format"`
	Quantity   int64        `json:"quantity"`
	UnitPrice  Money        `json:"unit_price"`
	ReturnDate time.Time    `json:"return_date"`
	Channel    string       `json:"channel,omitempty"`
	Status     ReturnStatus `json:"status"`
}

// Amount is quantity times unit price.
func (r ReturnRecord) Amount() Money { return r.UnitPrice.MulUnits(r.Quantity) }

// OwnershipShare is one payee's percentage of a title.
type OwnershipShare struct {
	PayeeID    string          `json:"payee_id"`
	PayeeName  string          `json:"payee_name,omitempty"`
	Percentage decimal.Decimal `json:"percentage"`
}
