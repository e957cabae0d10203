package engine

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestEqualWeightSizing(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxSlots = 4
	book := newCapitalBook(&cfg)

	notional, ok := book.allocate(&cfg, decimal.Zero)
	if !ok {
		t.Fatal("expected allocation")
	}
	// cash / remaining_slots * (1 - fee)
	want := d("10000").Div(d("4")).Mul(one.Sub(cfg.FeeRate))
	if !notional.Equal(want) {
		t.Fatalf("notional %s, want %s", notional, want)
	}
}

func TestAllocateRefusesWhenSlotsFull(t *testing.T) {
	cfg := baseConfig()
	cfg.MaxSlots = 1
	book := newCapitalBook(&cfg)
	if err := book.commit("X", 0, d("5000")); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, ok := book.allocate(&cfg, decimal.Zero); ok {
		t.Fatal("expected refusal with all slots taken")
	}
}

func TestAllocateRefusesBelowMinimumOrder(t *testing.T) {
	cfg := baseConfig()
	cfg.MinOrderAmount = d("20000")
	book := newCapitalBook(&cfg)
	if _, ok := book.allocate(&cfg, decimal.Zero); ok {
		t.Fatal("expected refusal below minimum order amount")
	}
}

func TestCommitOverdraftIsInvariantViolation(t *testing.T) {
	cfg := baseConfig()
	book := newCapitalBook(&cfg)
	err := book.commit("X", 3, d("10001"))
	if err == nil || !IsKind(err, KindInvariant) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestReleaseWithoutCommitIsInvariantViolation(t *testing.T) {
	cfg := baseConfig()
	book := newCapitalBook(&cfg)
	err := book.release("X", 0, d("100"), d("1"))
	if err == nil || !IsKind(err, KindInvariant) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestConservationAfterRoundTrip(t *testing.T) {
	cfg := baseConfig()
	book := newCapitalBook(&cfg)

	committed := d("4000")
	if err := book.commit("X", 0, committed); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !book.conserved(committed) {
		t.Fatal("conservation broken while position open")
	}

	pnl := d("250")
	if err := book.release("X", 5, committed.Add(pnl), pnl); err != nil {
		t.Fatalf("release: %v", err)
	}
	if !book.conserved(decimal.Zero) {
		t.Fatal("conservation broken after close")
	}
	if !book.cash.Equal(d("10250")) {
		t.Fatalf("cash %s, want 10250", book.cash)
	}
}

func TestRiskPerTradeSizingCapsAtEqualWeight(t *testing.T) {
	cfg := baseConfig()
	cfg.Sizing = SizingRiskPerTrade
	cfg.RiskFraction = d("0.02")
	book := newCapitalBook(&cfg)

	// Tiny stop distance would imply a huge position; the equal-weight
	// share is the ceiling.
	notional, ok := book.allocate(&cfg, d("0.001"))
	if !ok {
		t.Fatal("expected allocation")
	}
	ceiling := d("10000").Mul(one.Sub(cfg.FeeRate))
	if notional.GreaterThan(ceiling) {
		t.Fatalf("risk sizing %s exceeded ceiling %s", notional, ceiling)
	}

	// A wide stop shrinks the position below the ceiling.
	wide, ok := book.allocate(&cfg, d("0.10"))
	if !ok {
		t.Fatal("expected allocation")
	}
	if !wide.Equal(d("10000").Mul(d("0.02")).Div(d("0.10"))) {
		t.Fatalf("unexpected risk-based notional %s", wide)
	}
}
