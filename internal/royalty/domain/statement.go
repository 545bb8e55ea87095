package royalty

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EngineVersion identifies the calculation rules recorded in every trace.
const EngineVersion = "royalty-engine/1"

// Trace stages.
const (
	StageAggregate  = "aggregate"
	StageTier       = "tier"
	StageRecoupment = "recoupment"
	StageSplit      = "split"
)

// CalculationInput carries everything one statement calculation reads.
// The caller filters records to the period and loads contract state.
type CalculationInput struct {
	Contract    Contract         `json:"contract"`
	Tiers       []Tier           `json:"tiers"`
	Sales       []SalesRecord    `json:"sales"`
	Returns     []ReturnRecord   `json:"returns"`
	PeriodStart time.Time        `json:"period_start"`
	PeriodEnd   time.Time        `json:"period_end"`
	PriorUnits  map[string]int64 `json:"prior_cumulative_units,omitempty"`
	Ownership   []OwnershipShare `json:"ownership_split,omitempty"`
	// SplitTolerance defaults to DefaultSplitTolerance when nil. Zero demands an exact 100.
	SplitTolerance *decimal.Decimal `json:"split_tolerance,omitempty"`
}

// AdvanceSnapshot is the contract's advance state before and after the period.
type AdvanceSnapshot struct {
	Paid             Money `json:"paid"`
	RecoupedBefore   Money `json:"recouped_before"`
	RecoupedAfter    Money `json:"recouped_after"`
	OutstandingAfter Money `json:"outstanding_after"`
}

// TraceStep is one line of the calculation audit trail.
type TraceStep struct {
	Stage  string `json:"stage"`
	Format string `json:"format,omitempty"`
	Detail string `json:"detail"`
}

// Trace is enough to reproduce a statement's numbers.
type Trace struct {
	EngineVersion   string      `json:"engine_version"`
	InputsDigest    string      `json:"inputs_digest"`
	SalesCount      int         `json:"sales_count"`
	ReturnsCount    int         `json:"returns_count"`
	ExcludedReturns int         `json:"excluded_returns"`
	RecoupmentRule  string      `json:"recoupment_rule"`
	Steps           []TraceStep `json:"steps"`
}

// Statement is the engine's result for one contract and period.
type Statement struct {
	TenantID       string            `json:"tenant_id"`
	ContractID     string            `json:"contract_id"`
	TitleID        string            `json:"title_id"`
	ContractStatus ContractStatus    `json:"contract_status"`
	TierMode       TierMode          `json:"tier_mode"`
	Currency       string            `json:"currency"`
	PeriodStart    time.Time         `json:"period_start"`
	PeriodEnd      time.Time         `json:"period_end"`
	Formats        []FormatAggregate `json:"formats"`

	GrossRoyalty      Money           `json:"gross_royalty"`
	RecoupmentApplied Money           `json:"recoupment_applied"`
	NetPayable        Money           `json:"net_payable"`
	Advance           AdvanceSnapshot `json:"advance"`
	Payees            []PayeeShare    `json:"payees"`

	Trace Trace `json:"trace"`
}

// Period returns the statement's reporting window.
func (s Statement) Period() Period { return Period{Start: s.PeriodStart, End: s.PeriodEnd} }

// CalculateStatement aggregates the period, prices every format against its tiers,
// applies recoupment and splits the result across payees. It performs no I/O and
// returns the same result or error for the same input.
func CalculateStatement(in CalculationInput) (Statement, error) {
	contract := in.Contract
	if err := contract.validate(); err != nil {
		return Statement{}, err
	}
	period, err := NewPeriod(in.PeriodStart, in.PeriodEnd)
	if err != nil {
		return Statement{}, inputErr(contract.ID, "", "period", fmt.Sprintf("%s..%s", in.PeriodStart.Format(time.RFC3339), in.PeriodEnd.Format(time.RFC3339)), "empty or inverted period")
	}
	if err := CheckSequence(contract, period); err != nil {
		return Statement{}, err
	}
	ladders, err := BuildTierLadders(contract.ID, in.Tiers)
	if err != nil {
		return Statement{}, err
	}

	agg, err := AggregatePeriod(contract, ladders, period, in.Sales, in.Returns, in.PriorUnits)
	if err != nil {
		return Statement{}, err
	}
	recoup, err := ApplyRecoupment(contract.ID, agg.GrossRoyalty, contract.AdvancePaid, contract.AdvanceRecouped)
	if err != nil {
		return Statement{}, err
	}

	payees := []PayeeShare{}
	if len(in.Ownership) > 0 {
		tolerance := DefaultSplitTolerance
		if in.SplitTolerance != nil {
			tolerance = *in.SplitTolerance
		}
		payees, err = SplitOwnership(contract.ID, recoup.NetPayable, recoup.RecoupmentApplied, in.Ownership, tolerance)
		if err != nil {
			return Statement{}, err
		}
		payees = SplitFormats(payees, agg.Formats)
	}

	digest, err := InputsDigest(in)
	if err != nil {
		return Statement{}, err
	}

	stmt := Statement{
		TenantID:          contract.TenantID,
		ContractID:        contract.ID,
		TitleID:           contract.TitleID,
		ContractStatus:    contract.Status,
		TierMode:          contract.TierMode,
		Currency:          contract.Currency,
		PeriodStart:       period.Start,
		PeriodEnd:         period.End,
		Formats:           agg.Formats,
		GrossRoyalty:      agg.GrossRoyalty,
		RecoupmentApplied: recoup.RecoupmentApplied,
		NetPayable:        recoup.NetPayable,
		Advance: AdvanceSnapshot{
			Paid:             recoup.AdvancePaid,
			RecoupedBefore:   recoup.AdvanceRecoupedBefore,
			RecoupedAfter:    recoup.AdvanceRecoupedAfter,
			OutstandingAfter: recoup.OutstandingAfter,
		},
		Payees: payees,
		Trace: Trace{
			EngineVersion:   EngineVersion,
			InputsDigest:    digest,
			SalesCount:      agg.SalesCount,
			ReturnsCount:    agg.ReturnsCount,
			ExcludedReturns: agg.ExcludedReturns,
			RecoupmentRule:  recoup.Rule,
			Steps:           traceSteps(agg, recoup, payees),
		},
	}
	return stmt, nil
}

// InputsDigest is the SHA-256 of the JSON encoding of the input.
func InputsDigest(in CalculationInput) (string, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("royalty: digest inputs: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func traceSteps(agg PeriodAggregate, recoup RecoupmentResult, payees []PayeeShare) []TraceStep {
	steps := make([]TraceStep, 0, len(agg.Formats)*3+len(payees)+1)
	for _, f := range agg.Formats {
		steps = append(steps, TraceStep{
			Stage:  StageAggregate,
			Format: f.Format,
			Detail: fmt.Sprintf("sold=%d returned=%d net=%d base=%d unit_price=%s",
				f.UnitsSold, f.UnitsReturned, f.NetUnits, f.Resolution.BaseQuantity, f.Resolution.UnitPrice.Decimal().String()),
		})
		for _, slice := range f.Resolution.Breakdown {
			upper := "inf"
			if slice.MaxQuantity != nil {
				upper = fmt.Sprintf("%d", *slice.MaxQuantity)
			}
			steps = append(steps, TraceStep{
				Stage:  StageTier,
				Format: f.Format,
				Detail: fmt.Sprintf("[%d,%s) units=%d rate=%s subtotal=%s", slice.MinQuantity, upper, slice.Units, slice.Rate, slice.Subtotal),
			})
		}
	}
	steps = append(steps, TraceStep{
		Stage: StageRecoupment,
		Detail: fmt.Sprintf("rule=%s gross=%s outstanding_before=%s applied=%s net=%s recouped_after=%s",
			recoup.Rule, recoup.GrossTotal, recoup.AdvancePaid.Sub(recoup.AdvanceRecoupedBefore), recoup.RecoupmentApplied, recoup.NetPayable, recoup.AdvanceRecoupedAfter),
	})
	for _, p := range payees {
		steps = append(steps, TraceStep{
			Stage:  StageSplit,
			Detail: fmt.Sprintf("payee=%s pct=%s gross=%s recoupment=%s net=%s", p.PayeeID, p.Percentage.String(), p.GrossRoyalty, p.RecoupmentApplied, p.NetPayable),
		})
	}
	return steps
}
