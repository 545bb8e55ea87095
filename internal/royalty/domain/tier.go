package royalty

import (
	"math"
	"sort"
	"strconv"
)

// Tier is one quantity range of a contract's rate ladder for a format.
// MinQuantity is inclusive; MaxQuantity is exclusive and nil means unbounded.
type Tier struct {
	Format      string `json:"format"`
	MinQuantity int64  `json:"min_quantity"`
	MaxQuantity *int64 `json:"max_quantity,omitempty"`
	Rate        Rate   `json:"rate"`
}

func (t Tier) contains(lo, hi int64) (int64, int64) {
	start := lo
	if t.MinQuantity > start {
		start = t.MinQuantity
	}
	end := hi
	if t.MaxQuantity != nil && *t.MaxQuantity < end {
		end = *t.MaxQuantity
	}
	return start, end
}

// TierLadders holds the validated tiers of a contract keyed by format.
type TierLadders map[string][]Tier

// BuildTierLadders groups tiers by format, orders them and checks that each
// ladder starts at 0, is contiguous and only ends unbounded on its last tier.
func BuildTierLadders(contractID string, tiers []Tier) (TierLadders, error) {
	ladders := make(TierLadders)
	for _, tier := range tiers {
		if tier.Format == "" {
			return nil, configErr(contractID, "", "format", "", "tier without format")
		}
		ladders[tier.Format] = append(ladders[tier.Format], tier)
	}
	for format, ladder := range ladders {
		sort.SliceStable(ladder, func(i, j int) bool { return ladder[i].MinQuantity < ladder[j].MinQuantity })
		if err := ValidateLadder(contractID, format, ladder); err != nil {
			return nil, err
		}
	}
	return ladders, nil
}

// ValidateLadder checks an ordered ladder for one format.
func ValidateLadder(contractID, format string, ladder []Tier) error {
	if len(ladder) == 0 {
		return configErr(contractID, format, "tiers", "0", "no tiers for format")
	}
	var next int64
	for i, tier := range ladder {
		if err := tier.Rate.validate(); err != nil {
			return configErr(contractID, format, "rate", tier.Rate.Decimal().String(), err.Error())
		}
		if tier.MinQuantity != next {
			reason := "tier gap"
			if tier.MinQuantity < next {
				reason = "tier overlap"
			}
			if i == 0 {
				reason = "first tier does not start at 0"
			}
			return configErr(contractID, format, "min_quantity", strconv.FormatInt(tier.MinQuantity, 10), reason)
		}
		if tier.MaxQuantity == nil {
			if i != len(ladder)-1 {
				return configErr(contractID, format, "max_quantity", "unbounded", "unbounded tier is not last")
			}
			continue
		}
		if *tier.MaxQuantity <= tier.MinQuantity {
			return configErr(contractID, format, "max_quantity", strconv.FormatInt(*tier.MaxQuantity, 10), "empty tier range")
		}
		next = *tier.MaxQuantity
	}
	return nil
}

// TierSlice is the part of a priced quantity that fell inside one tier.
// Units and Subtotal are negative when a negative delta is priced.
type TierSlice struct {
	MinQuantity int64  `json:"min_quantity"`
	MaxQuantity *int64 `json:"max_quantity,omitempty"`
	Units       int64  `json:"units"`
	Rate        Rate   `json:"rate"`
	Subtotal    Money  `json:"subtotal"`
}

// TierResolution is the priced result of a quantity delta.
type TierResolution struct {
	BaseQuantity  int64       `json:"base_quantity"`
	DeltaQuantity int64       `json:"delta_quantity"`
	UnitPrice     Money       `json:"unit_price"`
	Amount        Money       `json:"amount"`
	Breakdown     []TierSlice `json:"breakdown"`
}

// ResolveTiers prices deltaQty units starting at baseQty against an ordered ladder.
//
// A positive delta covers [baseQty, baseQty+deltaQty). A negative delta covers
// [baseQty+deltaQty, baseQty) and every slice is priced negative, at the rate of the
// tier the units are leaving. Units a negative delta takes below zero are priced at
// the first tier's rate, the same way a negative period is priced in period mode.
// Each slice is units * unitPrice * rate rounded to currency precision, and Amount
// is the sum of the rounded slices.
func ResolveTiers(contractID, format string, ladder []Tier, baseQty, deltaQty int64, unitPrice Money) (TierResolution, error) {
	res := TierResolution{
		BaseQuantity:  baseQty,
		DeltaQuantity: deltaQty,
		UnitPrice:     unitPrice,
		Breakdown:     []TierSlice{},
	}
	if baseQty < 0 {
		return TierResolution{}, inputErr(contractID, format, "base_quantity", strconv.FormatInt(baseQty, 10), "negative base quantity")
	}
	if deltaQty == 0 {
		return res, nil
	}
	if err := ValidateLadder(contractID, format, ladder); err != nil {
		return TierResolution{}, err
	}

	lo, hi, sign := baseQty, int64(0), int64(1)
	var below int64
	if deltaQty > 0 {
		if deltaQty > math.MaxInt64-baseQty {
			return TierResolution{}, inputErr(contractID, format, "delta_quantity", strconv.FormatInt(deltaQty, 10), "quantity overflow")
		}
		hi = baseQty + deltaQty
	} else {
		if deltaQty == math.MinInt64 {
			return TierResolution{}, inputErr(contractID, format, "delta_quantity", strconv.FormatInt(deltaQty, 10), "quantity overflow")
		}
		lo, hi, sign = baseQty+deltaQty, baseQty, -1
		if lo < 0 {
			below, lo = -lo, 0
		}
	}

	var covered int64
	for i, tier := range ladder {
		start, end := tier.contains(lo, hi)
		units := max(end-start, 0)
		if i == 0 {
			units += below
		}
		if units == 0 {
			continue
		}
		covered += units
		subtotal := unitPrice.MulUnits(sign * units).MulRate(tier.Rate).Round()
		res.Breakdown = append(res.Breakdown, TierSlice{
			MinQuantity: tier.MinQuantity,
			MaxQuantity: tier.MaxQuantity,
			Units:       sign * units,
			Rate:        tier.Rate,
			Subtotal:    subtotal,
		})
		res.Amount = res.Amount.Add(subtotal)
	}
	if covered != hi-lo+below {
		return TierResolution{}, configErr(contractID, format, "quantity", strconv.FormatInt(hi, 10), "quantity exceeds last tier bound")
	}
	return res, nil
}

// Int64Ptr is a helper for literal tier bounds.
func Int64Ptr(v int64) *int64 { return &v }
