package royalty

import (
	"math"
	"sort"
	"strconv"
)

// FormatAggregate is the period result for one format.
type FormatAggregate struct {
	Format        string         `json:"format"`
	UnitsSold     int64          `json:"units_sold"`
	UnitsReturned int64          `json:"units_returned"`
	NetUnits      int64          `json:"net_units"`
	SalesAmount   Money          `json:"sales_amount"`
	ReturnsAmount Money          `json:"returns_amount"`
	Resolution    TierResolution `json:"resolution"`
	GrossRoyalty  Money          `json:"gross_royalty"`
}

// PeriodAggregate is the per-format reduction of a period's records.
type PeriodAggregate struct {
	Formats         []FormatAggregate `json:"formats"`
	GrossRoyalty    Money             `json:"gross_royalty"`
	SalesCount      int               `json:"sales_count"`
	ReturnsCount    int               `json:"returns_count"`
	ExcludedReturns int               `json:"excluded_returns"`
}

type formatTotals struct {
	sold, returned       int64
	salesAmt, returnsAmt Money
}

// AggregatePeriod groups the period's sales and approved returns by format and prices
// each format's net units against its tier ladder. Returns that are not approved are
// excluded and counted. prior is required in cumulative mode; a missing format counts as 0.
func AggregatePeriod(contract Contract, ladders TierLadders, period Period, sales []SalesRecord, returns []ReturnRecord, prior map[string]int64) (PeriodAggregate, error) {
	if contract.TierMode == TierModeCumulative && prior == nil {
		return PeriodAggregate{}, inputErr(contract.ID, "", "prior_cumulative_units", "nil", "prior cumulative units required in cumulative mode")
	}

	totals := make(map[string]*formatTotals)
	get := func(format string) (*formatTotals, error) {
		if _, ok := ladders[format]; !ok {
			return nil, configErr(contract.ID, format, "tiers", "0", "no tier table for format")
		}
		ft, ok := totals[format]
		if !ok {
			ft = &formatTotals{}
			totals[format] = ft
		}
		return ft, nil
	}

	out := PeriodAggregate{Formats: []FormatAggregate{}}
	seen := make(map[string]struct{}, len(sales))
	for _, s := range sales {
		if err := checkRecord(contract, period, seen, "sale", s.ID, s.TitleID, s.Format, s.Quantity, s.UnitPrice, s.SaleDate.IsZero() || !period.Contains(s.SaleDate)); err != nil {
			return PeriodAggregate{}, err
		}
		ft, err := get(s.Format)
		if err != nil {
			return PeriodAggregate{}, err
		}
		if s.Quantity > math.MaxInt64-ft.sold {
			return PeriodAggregate{}, inputErr(contract.ID, s.Format, "quantity", strconv.FormatInt(s.Quantity, 10), "quantity overflow")
		}
		ft.sold += s.Quantity
		ft.salesAmt = ft.salesAmt.Add(s.Amount())
		out.SalesCount++
	}

	seen = make(map[string]struct{}, len(returns))
	for _, r := range returns {
		if err := checkRecord(contract, period, seen, "return", r.ID, r.TitleID, r.Format, r.Quantity, r.UnitPrice, r.ReturnDate.IsZero() || !period.Contains(r.ReturnDate)); err != nil {
			return PeriodAggregate{}, err
		}
		if r.Status != ReturnApproved {
			out.ExcludedReturns++
			continue
		}
		ft, err := get(r.Format)
		if err != nil {
			return PeriodAggregate{}, err
		}
		if r.Quantity > math.MaxInt64-ft.returned {
			return PeriodAggregate{}, inputErr(contract.ID, r.Format, "quantity", strconv.FormatInt(r.Quantity, 10), "quantity overflow")
		}
		ft.returned += r.Quantity
		ft.returnsAmt = ft.returnsAmt.Add(r.Amount())
		out.ReturnsCount++
	}

	formats := make([]string, 0, len(totals))
	for format := range totals {
		formats = append(formats, format)
	}
	sort.Strings(formats)

	for _, format := range formats {
		ft := totals[format]
		net := ft.sold - ft.returned

		var base, delta int64
		switch contract.TierMode {
		case TierModeCumulative:
			base = prior[format]
			if base < 0 {
				return PeriodAggregate{}, inputErr(contract.ID, format, "prior_cumulative_units", strconv.FormatInt(base, 10), "negative prior cumulative units")
			}
			delta = net
		default:
			// Period tiers restart at 0. A negative period walks back down from |net|.
			delta = net
			if net < 0 {
				base = -net
			}
		}

		unitPrice := ft.salesAmt.DivUnits(ft.sold)
		if ft.sold == 0 {
			unitPrice = ft.returnsAmt.DivUnits(ft.returned)
		}
		res, err := ResolveTiers(contract.ID, format, ladders[format], base, delta, unitPrice)
		if err != nil {
			return PeriodAggregate{}, err
		}
		if !res.Amount.InRange() {
			return PeriodAggregate{}, inputErr(contract.ID, format, "gross_royalty", res.Amount.String(), "amount overflow")
		}
		out.Formats = append(out.Formats, FormatAggregate{
			Format:        format,
			UnitsSold:     ft.sold,
			UnitsReturned: ft.returned,
			NetUnits:      net,
			SalesAmount:   ft.salesAmt.Round(),
			ReturnsAmount: ft.returnsAmt.Round(),
			Resolution:    res,
			GrossRoyalty:  res.Amount,
		})
		out.GrossRoyalty = out.GrossRoyalty.Add(res.Amount)
	}
	if !out.GrossRoyalty.InRange() {
		return PeriodAggregate{}, inputErr(contract.ID, "", "gross_royalty", out.GrossRoyalty.String(), "amount overflow")
	}
	return out, nil
}

func checkRecord(contract Contract, period Period, seen map[string]struct{}, kind, id, titleID, format string, qty int64, price Money, outside bool) error {
	if id == "" {
		return inputErr(contract.ID, format, kind+"_id", "", "record without id")
	}
	if _, dup := seen[id]; dup {
		return inputErr(contract.ID, format, kind+"_id", id, "duplicate record")
	}
	seen[id] = struct{}{}
	if titleID != contract.TitleID {
		return inputErr(contract.ID, format, kind+"_title_id", titleID, "record for another title")
	}
	if format == "" {
		return inputErr(contract.ID, "", kind+"_format", id, "record without format")
	}
	if qty <= 0 {
		return inputErr(contract.ID, format, kind+"_quantity", strconv.FormatInt(qty, 10), "non-positive quantity")
	}
	if !price.IsPositive() {
		return inputErr(contract.ID, format, kind+"_unit_price", price.String(), "non-positive unit price")
	}
	if outside {
		return inputErr(contract.ID, format, kind+"_date", id, "record outside period")
	}
	return nil
}
