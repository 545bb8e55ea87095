package royalty

import "time"

// TierMode selects the base quantity tiers are evaluated against.
type TierMode string

const (
	// TierModePeriod resets tiers every period.
	TierModePeriod TierMode = "period"
	// TierModeCumulative evaluates tiers against all-time net units.
	TierModeCumulative TierMode = "cumulative"
)

// Valid reports whether the mode is known.
func (m TierMode) Valid() bool { return m == TierModePeriod || m == TierModeCumulative }

// ContractStatus is the lifecycle status of a contract.
type ContractStatus string

const (
	ContractActive     ContractStatus = "active"
	ContractTerminated ContractStatus = "terminated"
)

// Contract binds one title to its payees and carries the advance state.
type Contract struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenant_id"`
	TitleID  string         `json:"title_id"`
	Status   ContractStatus `json:"status"`
	TierMode TierMode       `json:"tier_mode"`
	Currency string         `json:"currency"`

	AdvanceAmount   Money `json:"advance_amount"`
	AdvancePaid     Money `json:"advance_paid"`
	AdvanceRecouped Money `json:"advance_recouped"`

	// LastFinalizedPeriodEnd is the end of the latest finalized period; nil before the first one.
	LastFinalizedPeriodEnd *time.Time `json:"last_finalized_period_end,omitempty"`
}

// Outstanding returns advance paid minus advance recouped.
func (c Contract) Outstanding() Money { return c.AdvancePaid.Sub(c.AdvanceRecouped) }

func (c Contract) validate() error {
	if c.ID == "" {
		return inputErr("", "", "contract_id", "", "empty contract id")
	}
	if c.TitleID == "" {
		return configErr(c.ID, "", "title_id", "", "contract has no title")
	}
	if !c.TierMode.Valid() {
		return configErr(c.ID, "", "tier_mode", string(c.TierMode), "unknown tier calculation mode")
	}
	if c.AdvancePaid.IsNegative() {
		return configErr(c.ID, "", "advance_paid", c.AdvancePaid.String(), "negative advance paid")
	}
	if c.AdvanceRecouped.IsNegative() {
		return configErr(c.ID, "", "advance_recouped", c.AdvanceRecouped.String(), "negative advance recouped")
	}
	if c.Outstanding().IsNegative() {
		return configErr(c.ID, "", "outstanding", c.Outstanding().String(), "advance recouped exceeds advance paid")
	}
	return nil
}
