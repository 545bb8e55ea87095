package royalty

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestMoneyRoundHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"0.125", "0.13"},
		{"0.124", "0.12"},
		{"-0.125", "-0.13"},
		{"-0.124", "-0.12"},
		{"100.005", "100.01"},
		{"2.5", "2.50"},
	}
	for _, tc := range cases {
		got := MustMoney(tc.in).Round().String()
		if got != tc.want {
			t.Fatalf("round %s: got %s want %s", tc.in, got, tc.want)
		}
	}
}

func TestMoneyReversalMirrorsSale(t *testing.T) {
	price := MustMoney("3.33")
	rate := MustRate("0.1250")
	sale := price.MulUnits(7).MulRate(rate).Round()
	reversal := price.MulUnits(-7).MulRate(rate).Round()
	if !sale.Add(reversal).IsZero() {
		t.Fatalf("sale %s and reversal %s do not cancel", sale, reversal)
	}
}

func TestMoneyCentsAndJSON(t *testing.T) {
	m := MustMoney("-12.3")
	if m.Cents() != -1230 {
		t.Fatalf("cents: %d", m.Cents())
	}
	if !MoneyFromCents(-1230).Equal(m) {
		t.Fatalf("from cents mismatch")
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `"-12.30"` {
		t.Fatalf("json: %s", data)
	}
	var back Money
	if err := json.Unmarshal([]byte(`"7.05"`), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.String() != "7.05" {
		t.Fatalf("unmarshal value: %s", back)
	}
}

func TestMoneyRange(t *testing.T) {
	if !MustMoney("9999999999999999.99").InRange() {
		t.Fatalf("expected max storable amount in range")
	}
	if MustMoney("10000000000000000").InRange() {
		t.Fatalf("expected overflow")
	}
}

func TestRateValidation(t *testing.T) {
	valid := []string{"0", "0.1", "0.1250", "1", "1.0000"}
	for _, v := range valid {
		if _, err := ParseRate(v); err != nil {
			t.Fatalf("rate %s: %v", v, err)
		}
	}
	invalid := []string{"-0.01", "1.0001", "0.12345", "abc"}
	for _, v := range invalid {
		if _, err := ParseRate(v); err == nil {
			t.Fatalf("rate %s: expected error", v)
		}
	}
	var r Rate
	if err := json.Unmarshal([]byte(`"1.5"`), &r); err == nil {
		t.Fatalf("expected json rate validation error")
	}
	if err := (Rate{d: decimal.RequireFromString("2")}).validate(); err == nil {
		t.Fatalf("expected validate error for scanned rate")
	}
}
