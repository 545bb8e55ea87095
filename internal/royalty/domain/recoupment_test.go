package royalty

import (
	"errors"
	"testing"
	"time"
)

func TestApplyRecoupmentSequence(t *testing.T) {
	paid := MustMoney("1000.00")
	recouped := ZeroMoney
	steps := []struct {
		gross        string
		wantApplied  string
		wantNet      string
		wantRecouped string
		wantRule     string
	}{
		{"600.00", "600.00", "0.00", "600.00", RuleRecouped},
		{"-200.00", "0.00", "-200.00", "600.00", RuleNonPositiveGross},
		{"500.00", "400.00", "100.00", "1000.00", RuleRecouped},
		{"50.00", "0.00", "50.00", "1000.00", RuleFullyRecouped},
		{"0.00", "0.00", "0.00", "1000.00", RuleNonPositiveGross},
	}
	for i, step := range steps {
		res, err := ApplyRecoupment("contract-1", MustMoney(step.gross), paid, recouped)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if res.RecoupmentApplied.String() != step.wantApplied || res.NetPayable.String() != step.wantNet ||
			res.AdvanceRecoupedAfter.String() != step.wantRecouped || res.Rule != step.wantRule {
			t.Fatalf("step %d: got %+v", i, res)
		}
		if res.AdvanceRecoupedAfter.Cmp(recouped) < 0 {
			t.Fatalf("step %d: advance recouped decreased", i)
		}
		recouped = res.AdvanceRecoupedAfter
	}
}

func TestApplyRecoupmentMonotone(t *testing.T) {
	paid := MustMoney("2500.00")
	recouped := ZeroMoney
	grosses := []string{"-10.00", "300.00", "-900.00", "0.01", "0.00", "1999.98", "-0.01", "400.00", "12.00"}
	for _, g := range grosses {
		res, err := ApplyRecoupment("contract-1", MustMoney(g), paid, recouped)
		if err != nil {
			t.Fatalf("gross %s: %v", g, err)
		}
		if res.AdvanceRecoupedAfter.Cmp(recouped) < 0 {
			t.Fatalf("gross %s: recouped went from %s to %s", g, recouped, res.AdvanceRecoupedAfter)
		}
		if res.AdvanceRecoupedAfter.Cmp(paid) > 0 {
			t.Fatalf("gross %s: recouped %s exceeds paid", g, res.AdvanceRecoupedAfter)
		}
		if !res.RecoupmentApplied.Add(res.NetPayable).Equal(res.GrossTotal) {
			t.Fatalf("gross %s: applied + net != gross", g)
		}
		recouped = res.AdvanceRecoupedAfter
	}
	if recouped.String() != "2500.00" {
		t.Fatalf("final recouped: %s", recouped)
	}
}

func TestApplyRecoupmentRejectsNegativeOutstanding(t *testing.T) {
	_, err := ApplyRecoupment("contract-1", MustMoney("10.00"), MustMoney("100.00"), MustMoney("100.01"))
	var cfg *ConfigurationError
	if !errors.As(err, &cfg) || cfg.Field != "outstanding" {
		t.Fatalf("expected outstanding configuration error, got %v", err)
	}
	if _, err := ApplyRecoupment("contract-1", MustMoney("10.001"), MustMoney("100.00"), ZeroMoney); !errors.Is(err, ErrInput) {
		t.Fatalf("expected input error for unsettled gross, got %v", err)
	}
}

func TestCheckSequence(t *testing.T) {
	contract := testContract(TierModePeriod)
	period, _ := NewPeriod(q1Start, q1End)
	if err := CheckSequence(contract, period); err != nil {
		t.Fatalf("first period: %v", err)
	}
	last := q1End
	contract.LastFinalizedPeriodEnd = &last
	if err := CheckSequence(contract, period); !errors.Is(err, ErrSequence) {
		t.Fatalf("expected sequence error, got %v", err)
	}
	next, _ := NewPeriod(q1End, q1End.AddDate(0, 3, 0))
	if err := CheckSequence(contract, next); err != nil {
		t.Fatalf("next period: %v", err)
	}
	gap, _ := NewPeriod(q1End.AddDate(0, 6, 0), q1End.AddDate(0, 9, 0))
	if err := CheckSequence(contract, gap); err != nil {
		t.Fatalf("later period after gap: %v", err)
	}
	if kind := ErrorKind(CheckSequence(contract, period)); kind != KindSequence {
		t.Fatalf("kind: %q", kind)
	}
	if _, err := NewPeriod(q1End, q1Start); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected invalid period, got %v", err)
	}
	if !period.Contains(q1Start) || period.Contains(q1End) || period.Contains(q1Start.Add(-time.Nanosecond)) {
		t.Fatalf("period must be half-open")
	}
}

func TestCheckContiguous(t *testing.T) {
	contract := testContract(TierModePeriod)
	gap, _ := NewPeriod(q1End.AddDate(0, 6, 0), q1End.AddDate(0, 9, 0))
	if err := CheckContiguous(contract, gap); err != nil {
		t.Fatalf("nothing finalized yet: %v", err)
	}
	last := q1End
	contract.LastFinalizedPeriodEnd = &last
	next, _ := NewPeriod(q1End, q1End.AddDate(0, 3, 0))
	if err := CheckContiguous(contract, next); err != nil {
		t.Fatalf("next period: %v", err)
	}
	err := CheckContiguous(contract, gap)
	var seqErr *SequenceError
	if !errors.As(err, &seqErr) || seqErr.Field != "period_start" {
		t.Fatalf("expected period_start sequence error, got %v", err)
	}
	earlier, _ := NewPeriod(q1Start, q1End)
	if err := CheckContiguous(contract, earlier); !errors.Is(err, ErrSequence) {
		t.Fatalf("expected sequence error for finalized period, got %v", err)
	}
}
