package royalty

import (
	"math/big"
	"sort"

	"github.com/shopspring/decimal"
)

// DefaultSplitTolerance is how far ownership percentages may drift from 100.
var DefaultSplitTolerance = decimal.RequireFromString("0.01")

var hundred = decimal.NewFromInt(100)

// PayeeShare is one payee's portion of a title-level result.
type PayeeShare struct {
	PayeeID           string          `json:"payee_id"`
	PayeeName         string          `json:"payee_name,omitempty"`
	Percentage        decimal.Decimal `json:"percentage"`
	GrossRoyalty      Money           `json:"gross_royalty"`
	RecoupmentApplied Money           `json:"recoupment_applied"`
	NetPayable        Money           `json:"net_payable"`
	// Formats is the payee's share of each format's gross royalty.
	Formats []PayeeFormatShare `json:"formats,omitempty"`
}

// PayeeFormatShare is a payee's portion of one format's gross royalty.
type PayeeFormatShare struct {
	Format       string `json:"format"`
	GrossRoyalty Money  `json:"gross_royalty"`
}

// SplitOwnership apportions net payable and recoupment across payees with the
// largest-remainder method so that payee amounts sum exactly to the title amounts.
// Each payee's gross is its net plus its recoupment. Ties on the remainder go to the
// payee listed first.
func SplitOwnership(contractID string, netPayable, recoupment Money, shares []OwnershipShare, tolerance decimal.Decimal) ([]PayeeShare, error) {
	if len(shares) == 0 {
		return nil, configErr(contractID, "", "ownership_split", "0", "empty ownership split")
	}
	if tolerance.IsNegative() {
		return nil, configErr(contractID, "", "split_tolerance", tolerance.String(), "negative split tolerance")
	}
	if !netPayable.IsSettled() || !recoupment.IsSettled() {
		return nil, inputErr(contractID, "", "net_payable", netPayable.Decimal().String(), "amount not at currency precision")
	}

	seen := make(map[string]struct{}, len(shares))
	sum := decimal.Zero
	weights := make([]decimal.Decimal, len(shares))
	for i, s := range shares {
		if s.PayeeID == "" {
			return nil, configErr(contractID, "", "payee_id", "", "ownership share without payee")
		}
		if _, dup := seen[s.PayeeID]; dup {
			return nil, configErr(contractID, "", "payee_id", s.PayeeID, "duplicate payee in ownership split")
		}
		seen[s.PayeeID] = struct{}{}
		if s.Percentage.IsNegative() {
			return nil, configErr(contractID, "", "percentage", s.Percentage.String(), "negative ownership percentage")
		}
		weights[i] = s.Percentage
		sum = sum.Add(s.Percentage)
	}
	if sum.Sub(hundred).Abs().GreaterThan(tolerance) {
		return nil, configErr(contractID, "", "percentage_sum", sum.String(), "ownership percentages do not sum to 100")
	}

	netCents := apportionCents(netPayable.Cents(), weights)
	recoupCents := apportionCents(recoupment.Cents(), weights)

	out := make([]PayeeShare, len(shares))
	for i, s := range shares {
		net := MoneyFromCents(netCents[i])
		rec := MoneyFromCents(recoupCents[i])
		out[i] = PayeeShare{
			PayeeID:           s.PayeeID,
			PayeeName:         s.PayeeName,
			Percentage:        s.Percentage,
			GrossRoyalty:      net.Add(rec),
			RecoupmentApplied: rec,
			NetPayable:        net,
		}
	}
	return out, nil
}

// SplitFormats breaks each payee's gross down by format. Every format's gross is
// apportioned by percentage with the largest-remainder rule, then whole cents are
// moved between payees inside the largest format until each payee's lines add up
// to its GrossRoyalty. Each format's lines still add up to the format's gross.
//
// payees must come from SplitOwnership on the same statement, so that payee grosses
// and format grosses share one total.
func SplitFormats(payees []PayeeShare, formats []FormatAggregate) []PayeeShare {
	if len(payees) == 0 || len(formats) == 0 {
		return payees
	}
	weights := make([]decimal.Decimal, len(payees))
	for i, p := range payees {
		weights[i] = p.Percentage
	}
	cells := make([][]int64, len(payees))
	for i := range cells {
		cells[i] = make([]int64, len(formats))
	}
	largest := 0
	for j, f := range formats {
		cents := f.GrossRoyalty.Cents()
		for i, c := range apportionCents(cents, weights) {
			cells[i][j] = c
		}
		if absCents(cents) > absCents(formats[largest].GrossRoyalty.Cents()) {
			largest = j
		}
	}

	diff := make([]int64, len(payees))
	for i, p := range payees {
		diff[i] = p.GrossRoyalty.Cents()
		for _, c := range cells[i] {
			diff[i] -= c
		}
	}
	for over, under := 0, 0; ; {
		for over < len(diff) && diff[over] <= 0 {
			over++
		}
		for under < len(diff) && diff[under] >= 0 {
			under++
		}
		if over == len(diff) || under == len(diff) {
			break
		}
		move := min(diff[over], -diff[under])
		cells[over][largest] += move
		cells[under][largest] -= move
		diff[over] -= move
		diff[under] += move
	}

	out := make([]PayeeShare, len(payees))
	for i, p := range payees {
		p.Formats = make([]PayeeFormatShare, len(formats))
		for j, f := range formats {
			p.Formats[j] = PayeeFormatShare{Format: f.Format, GrossRoyalty: MoneyFromCents(cells[i][j])}
		}
		out[i] = p
	}
	return out
}

func absCents(c int64) int64 {
	if c < 0 {
		return -c
	}
	return c
}

// apportionCents splits total by weights with Hamilton's method, in exact integer
// arithmetic. Negative totals are apportioned on their magnitude and negated.
func apportionCents(total int64, weights []decimal.Decimal) []int64 {
	out := make([]int64, len(weights))
	if total == 0 {
		return out
	}
	sign := int64(1)
	if total < 0 {
		sign, total = -1, -total
	}

	var places int32
	for _, w := range weights {
		if -w.Exponent() > places {
			places = -w.Exponent()
		}
	}
	scaled := make([]*big.Int, len(weights))
	sum := new(big.Int)
	for i, w := range weights {
		scaled[i] = w.Shift(places).BigInt()
		sum.Add(sum, scaled[i])
	}
	if sum.Sign() == 0 {
		return out
	}

	type remainder struct {
		idx int
		rem *big.Int
	}
	rems := make([]remainder, len(weights))
	abs := big.NewInt(total)
	var allocated int64
	for i := range weights {
		q, r := new(big.Int).QuoRem(new(big.Int).Mul(abs, scaled[i]), sum, new(big.Int))
		out[i] = q.Int64()
		allocated += out[i]
		rems[i] = remainder{idx: i, rem: r}
	}

	sort.SliceStable(rems, func(a, b int) bool { return rems[a].rem.Cmp(rems[b].rem) > 0 })
	leftover := total - allocated
	for i := 0; leftover > 0; i = (i + 1) % len(rems) {
		out[rems[i].idx]++
		leftover--
	}

	for i := range out {
		out[i] *= sign
	}
	return out
}
