package engine

import "github.com/shopspring/decimal"

// capitalBook is the single cash pool plus slot budget shared by all assets
// within one run. Every run builds a fresh book; nothing here is global.
type capitalBook struct {
	initial        decimal.Decimal
	cash           decimal.Decimal
	maxSlots       int
	committedSlots int
	realized       decimal.Decimal // cumulative realized PnL, for conservation checks
}

func newCapitalBook(cfg *Config) *capitalBook {
	return &capitalBook{
		initial:  cfg.InitialCapital,
		cash:     cfg.InitialCapital,
		maxSlots: cfg.MaxSlots,
	}
}

// allocate decides the notional a new entry may use, or refuses.
// Refusal (ok=false) is a normal outcome, not an error.
func (b *capitalBook) allocate(cfg *Config, stopDistancePct decimal.Decimal) (notional decimal.Decimal, ok bool) {
	if b.committedSlots >= b.maxSlots {
		return decimal.Zero, false
	}
	remaining := decimal.NewFromInt(int64(b.maxSlots - b.committedSlots))

	switch cfg.Sizing {
	case SizingFixedFractional:
		notional = b.cash.Mul(cfg.riskFraction()).Mul(one.Sub(cfg.FeeRate))
	case SizingRiskPerTrade:
		if stopDistancePct.IsPositive() {
			// risk budget / stop distance, capped at the equal-weight share
			notional = b.cash.Mul(cfg.riskFraction()).Div(stopDistancePct)
			ceiling := b.cash.Div(remaining).Mul(one.Sub(cfg.FeeRate))
			if notional.GreaterThan(ceiling) {
				notional = ceiling
			}
		} else {
			notional = b.cash.Div(remaining).Mul(one.Sub(cfg.FeeRate))
		}
	default: // SizingEqualWeight
		notional = b.cash.Div(remaining).Mul(one.Sub(cfg.FeeRate))
	}

	if notional.LessThan(cfg.MinOrderAmount) || !notional.IsPositive() {
		return decimal.Zero, false
	}
	return notional, true
}

// commit moves total (notional + entry commission) from cash into an open
// position and consumes a slot.
func (b *capitalBook) commit(symbol string, bar int, total decimal.Decimal) error {
	if b.committedSlots >= b.maxSlots {
		return invariantErrf(symbol, bar, "commit with all %d slots taken", b.maxSlots)
	}
	next := b.cash.Sub(total)
	if next.IsNegative() {
		return invariantErrf(symbol, bar, "allocation %s exceeds cash %s", total, b.cash)
	}
	b.cash = next
	b.committedSlots++
	return nil
}

// release returns exit proceeds to cash, records realized PnL, and frees
// the slot.
func (b *capitalBook) release(symbol string, bar int, proceeds, pnl decimal.Decimal) error {
	if b.committedSlots <= 0 {
		return invariantErrf(symbol, bar, "release with no committed slots")
	}
	b.committedSlots--
	b.cash = b.cash.Add(proceeds)
	b.realized = b.realized.Add(pnl)
	return nil
}

// conserved reports whether cash + committed capital + realized PnL still
// equals the initial principal, within tolerance.
func (b *capitalBook) conserved(committed decimal.Decimal) bool {
	total := b.cash.Add(committed)
	want := b.initial.Add(b.realized)
	return total.Sub(want).Abs().LessThan(decimal.New(1, -9))
}
