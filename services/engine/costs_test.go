package engine

import "testing"

func TestRateCostModelDegradesAgainstTrader(t *testing.T) {
	m := RateCostModel{FeeRate: d("0.001"), SlippageRate: d("0.0005")}

	buy := m.Apply(TradeSideBuy, d("100"), d("2"))
	if !buy.Price.Equal(d("100.05")) {
		t.Fatalf("buy fill should slip up, got %s", buy.Price)
	}
	sell := m.Apply(TradeSideSell, d("100"), d("2"))
	if !sell.Price.Equal(d("99.95")) {
		t.Fatalf("sell fill should slip down, got %s", sell.Price)
	}

	// Commission is notional * fee, on the realized notional.
	if !buy.Commission.Equal(d("100.05").Mul(d("2")).Mul(d("0.001"))) {
		t.Fatalf("unexpected buy commission %s", buy.Commission)
	}
	// Slippage cost is recorded separately, never folded away.
	if !buy.Slippage.Equal(d("0.1")) {
		t.Fatalf("unexpected buy slippage cost %s", buy.Slippage)
	}
	if !sell.Slippage.Equal(d("0.1")) {
		t.Fatalf("unexpected sell slippage cost %s", sell.Slippage)
	}
}

func TestZeroRatesAreFree(t *testing.T) {
	m := RateCostModel{}
	f := m.Apply(TradeSideBuy, d("123.45"), d("10"))
	if !f.Price.Equal(d("123.45")) || !f.Commission.IsZero() || !f.Slippage.IsZero() {
		t.Fatalf("zero-rate model should be a passthrough, got %+v", f)
	}
}
