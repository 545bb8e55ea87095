package royalty

import "time"

// Recoupment rules recorded in the trace.
const (
	RuleNonPositiveGross = "non_positive_gross"
	RuleRecouped         = "recouped"
	RuleFullyRecouped    = "fully_recouped"
)

// RecoupmentResult is the proposed advance transition for one period.
type RecoupmentResult struct {
	Rule                  string `json:"rule"`
	GrossTotal            Money  `json:"gross_total"`
	RecoupmentApplied     Money  `json:"recoupment_applied"`
	NetPayable            Money  `json:"net_payable"`
	AdvancePaid           Money  `json:"advance_paid"`
	AdvanceRecoupedBefore Money  `json:"advance_recouped_before"`
	AdvanceRecoupedAfter  Money  `json:"advance_recouped_after"`
	OutstandingAfter      Money  `json:"outstanding_after"`
}

// ApplyRecoupment applies a period's gross royalty against the unrecouped advance.
//
// A gross total at or below zero recoups nothing and leaves advance recouped as it
// was; the negative net payable is reported unclamped. A positive gross recoups up to
// the outstanding balance. The function is pure: callers persist the new state and
// must not apply the same period twice.
func ApplyRecoupment(contractID string, gross, advancePaid, advanceRecouped Money) (RecoupmentResult, error) {
	for _, v := range []struct {
		field string
		m     Money
	}{{"gross_total", gross}, {"advance_paid", advancePaid}, {"advance_recouped", advanceRecouped}} {
		if !v.m.IsSettled() {
			return RecoupmentResult{}, inputErr(contractID, "", v.field, v.m.Decimal().String(), "amount not at currency precision")
		}
	}
	if advanceRecouped.IsNegative() {
		return RecoupmentResult{}, configErr(contractID, "", "advance_recouped", advanceRecouped.String(), "negative advance recouped")
	}
	outstanding := advancePaid.Sub(advanceRecouped)
	if outstanding.IsNegative() {
		return RecoupmentResult{}, configErr(contractID, "", "outstanding", outstanding.String(), "negative outstanding advance")
	}

	res := RecoupmentResult{
		GrossTotal:            gross,
		AdvancePaid:           advancePaid,
		AdvanceRecoupedBefore: advanceRecouped,
	}
	switch {
	case !gross.IsPositive():
		res.Rule = RuleNonPositiveGross
		res.RecoupmentApplied = ZeroMoney
	case outstanding.IsPositive():
		res.Rule = RuleRecouped
		res.RecoupmentApplied = gross.Min(outstanding)
	default:
		res.Rule = RuleFullyRecouped
		res.RecoupmentApplied = ZeroMoney
	}
	res.NetPayable = gross.Sub(res.RecoupmentApplied)
	res.AdvanceRecoupedAfter = advanceRecouped.Add(res.RecoupmentApplied)
	res.OutstandingAfter = advancePaid.Sub(res.AdvanceRecoupedAfter)
	return res, nil
}

// CheckSequence rejects a period that starts before the contract's last finalized period ended.
func CheckSequence(contract Contract, period Period) error {
	if contract.LastFinalizedPeriodEnd == nil {
		return nil
	}
	last := contract.LastFinalizedPeriodEnd.UTC()
	if period.Start.Before(last) {
		return sequenceErr(contract.ID, "period_start", period.Start.Format(time.DateOnly),
			"period starts before last finalized period end "+last.Format(time.DateOnly))
	}
	return nil
}

// CheckContiguous applies CheckSequence and also rejects a period that starts after
// the last finalized period ended: once a contract has finalized a period, the next
// one must pick up exactly where it stopped.
func CheckContiguous(contract Contract, period Period) error {
	if err := CheckSequence(contract, period); err != nil {
		return err
	}
	if contract.LastFinalizedPeriodEnd == nil {
		return nil
	}
	last := contract.LastFinalizedPeriodEnd.UTC()
	if period.Start.After(last) {
		return sequenceErr(contract.ID, "period_start", period.Start.Format(time.DateOnly),
			"period leaves a gap after last finalized period end "+last.Format(time.DateOnly))
	}
	return nil
}
