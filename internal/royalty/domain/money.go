package royalty

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// CurrencyPlaces is the precision of settled money amounts.
	CurrencyPlaces = 2
	// RatePlaces is the maximum precision of a royalty rate.
	RatePlaces = 4

	// divisionPlaces bounds intermediate quotients such as average unit prices.
	divisionPlaces = 12
)

// maxMoney is the largest magnitude a settled amount may reach (NUMERIC(18,2)).
var maxMoney = decimal.New(1, 16)

// Money is a fixed-precision currency amount. Intermediate values may carry
// more than CurrencyPlaces digits; Round settles them.
type Money struct {
	d decimal.Decimal
}

// ZeroMoney is the zero amount.
var ZeroMoney = Money{}

// NewMoney wraps a decimal value.
func NewMoney(d decimal.Decimal) Money { return Money{d: d} }

// MoneyFromCents builds an amount from an integer count of minor units.
func MoneyFromCents(cents int64) Money { return Money{d: decimal.New(cents, -CurrencyPlaces)} }

// ParseMoney parses a decimal string such as "12.34".
func ParseMoney(value string) (Money, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Money{}, fmt.Errorf("royalty: parse money %q: %w", value, err)
	}
	return Money{d: d}, nil
}

// MustMoney parses value and panics on error. Intended for tests and constants.
func MustMoney(value string) Money {
	m, err := ParseMoney(value)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal exposes the underlying decimal.
func (m Money) Decimal() decimal.Decimal { return m.d }

// Add returns m + other.
func (m Money) Add(other Money) Money { return Money{d: m.d.Add(other.d)} }

// Sub returns m - other.
func (m Money) Sub(other Money) Money { return Money{d: m.d.Sub(other.d)} }

// Neg returns -m.
func (m Money) Neg() Money { return Money{d: m.d.Neg()} }

// MulUnits returns m multiplied by a unit count.
func (m Money) MulUnits(units int64) Money { return Money{d: m.d.Mul(decimal.NewFromInt(units))} }

// MulRate applies a rate without rounding.
func (m Money) MulRate(rate Rate) Money { return Money{d: m.d.Mul(rate.d)} }

// DivUnits divides by a unit count, keeping divisionPlaces digits.
func (m Money) DivUnits(units int64) Money {
	if units == 0 {
		return Money{}
	}
	return Money{d: m.d.DivRound(decimal.NewFromInt(units), divisionPlaces)}
}

// Round settles the amount to currency precision, rounding halves away from
// zero so that a reversal of a sale rounds to exactly the negated sale.
func (m Money) Round() Money { return Money{d: m.d.Round(CurrencyPlaces)} }

// Min returns the smaller of m and other.
func (m Money) Min(other Money) Money {
	if m.d.LessThanOrEqual(other.d) {
		return m
	}
	return other
}

// Cmp compares m and other.
func (m Money) Cmp(other Money) int { return m.d.Cmp(other.d) }

// Equal reports numeric equality, ignoring representation exponent.
func (m Money) Equal(other Money) bool { return m.d.Equal(other.d) }

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool { return m.d.IsZero() }

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool { return m.d.IsPositive() }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.d.IsNegative() }

// IsSettled reports whether the amount has no digits beyond currency precision.
func (m Money) IsSettled() bool { return m.d.Equal(m.d.Round(CurrencyPlaces)) }

// InRange reports whether the amount fits the storable range.
func (m Money) InRange() bool { return m.d.Abs().LessThan(maxMoney) }

// Cents returns the amount in minor units. The amount must be settled.
func (m Money) Cents() int64 { return m.d.Shift(CurrencyPlaces).IntPart() }

// String renders the amount at currency precision.
func (m Money) String() string { return m.d.StringFixed(CurrencyPlaces) }

// MarshalJSON renders the amount as a JSON string to avoid float decoding downstream.
func (m Money) MarshalJSON() ([]byte, error) {
	if m.IsSettled() {
		return json.Marshal(m.d.StringFixed(CurrencyPlaces))
	}
	return json.Marshal(m.d.String())
}

// UnmarshalJSON accepts both quoted and bare decimal numbers.
func (m *Money) UnmarshalJSON(data []byte) error {
	return m.d.UnmarshalJSON(data)
}

// Value implements driver.Valuer.
func (m Money) Value() (driver.Value, error) { return m.d.Value() }

// Scan implements sql.Scanner.
func (m *Money) Scan(value any) error { return m.d.Scan(value) }

// Rate is a royalty rate in [0,1] with at most RatePlaces digits.
type Rate struct {
	d decimal.Decimal
}

// NewRate validates a rate.
func NewRate(d decimal.Decimal) (Rate, error) {
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return Rate{}, fmt.Errorf("royalty: rate %s outside [0,1]", d.String())
	}
	if !d.Equal(d.Round(RatePlaces)) {
		return Rate{}, fmt.Errorf("royalty: rate %s exceeds %d decimal places", d.String(), RatePlaces)
	}
	return Rate{d: d}, nil
}

// ParseRate parses and validates a rate such as "0.125".
func ParseRate(value string) (Rate, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return Rate{}, fmt.Errorf("royalty: parse rate %q: %w", value, err)
	}
	return NewRate(d)
}

// MustRate parses value and panics on error.
func MustRate(value string) Rate {
	r, err := ParseRate(value)
	if err != nil {
		panic(err)
	}
	return r
}

// Decimal exposes the underlying decimal.
func (r Rate) Decimal() decimal.Decimal { return r.d }

// Equal reports numeric equality.
func (r Rate) Equal(other Rate) bool { return r.d.Equal(other.d) }

// String renders the rate at RatePlaces.
func (r Rate) String() string { return r.d.StringFixed(RatePlaces) }

// MarshalJSON renders the rate as a JSON string.
func (r Rate) MarshalJSON() ([]byte, error) { return json.Marshal(r.String()) }

// UnmarshalJSON decodes and validates the rate.
func (r *Rate) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	parsed, err := NewRate(d)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Value implements driver.Valuer.
func (r Rate) Value() (driver.Value, error) { return r.d.Value() }

// Scan implements sql.Scanner. Range checks happen when the tier table is validated.
func (r *Rate) Scan(value any) error { return r.d.Scan(value) }

// validate re-checks a rate that bypassed NewRate (scanned from storage).
func (r Rate) validate() error {
	_, err := NewRate(r.d)
	return err
}
