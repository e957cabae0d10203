package engine

import "github.com/shopspring/decimal"

// Entry evaluation. The entry decision uses the prior bar's signal; the fill
// happens on the current bar. That one-bar lag is the central correctness
// rule of the whole engine: a signal computed from a bar's close can only be
// acted on once that bar has fully closed.

// evaluateEntry opens a position for a flat asset when the prior bar
// signalled entry and the current bar makes the fill feasible.
func (r *runState) evaluateEntry(st *assetState, ts int64) error {
	if st.barIdx < 0 || r.ledger.position(st.symbol()) != nil {
		return nil
	}
	if st.closedThisStep || st.barIdx <= st.blockedUntil {
		return nil
	}
	sig, ok := st.priorSignal()
	if !ok || !sig.Entry {
		return nil
	}

	bar := st.bar()
	fillPrice := bar.Open
	if sig.Target.Valid {
		// Breakout entry: fires only when the bar reaches the target, and
		// cannot fill below the bar's own open.
		if bar.High.LessThan(sig.Target.Decimal) {
			return nil
		}
		if sig.Target.Decimal.GreaterThan(fillPrice) {
			fillPrice = sig.Target.Decimal
		}
	}

	cfg := &r.engine.cfg
	realized := r.engine.costs.Quote(TradeSideBuy, fillPrice)
	stop := resolveLevel(sig.Stop, cfg.StopLossPct, realized, false)
	takeProfit := resolveLevel(sig.TakeProfit, cfg.TakeProfitPct, realized, true)

	notional, ok := r.book.allocate(cfg, stopDistancePct(realized, stop))
	if !ok {
		r.events.append(Event{Ts: ts, BarIndex: st.barIdx, Type: EventAllocationRefused, Symbol: st.symbol()})
		return nil
	}

	// Truncated division: Div rounds half up, which can push the spent
	// notional past the allocation by the last decimal place.
	quantity, _ := notional.QuoRem(realized, int32(decimal.DivisionPrecision))
	fill := r.engine.costs.Apply(TradeSideBuy, fillPrice, quantity)
	committed := fill.Notional.Add(fill.Commission)
	if err := r.book.commit(st.symbol(), st.barIdx, committed); err != nil {
		return err
	}

	pos := &Position{
		Symbol:            st.symbol(),
		EntryTime:         ts,
		EntryBarIndex:     st.barIdx,
		EntryPrice:        fill.Price,
		Quantity:          quantity,
		Notional:          fill.Notional,
		CapitalCommitted:  committed,
		EntryCommission:   fill.Commission,
		EntrySlippage:     fill.Slippage,
		StopPrice:         stop,
		TakeProfitPrice:   takeProfit,
		TrailingPct:       cfg.TrailingStopPct,
		HighestSinceEntry: fill.Price,
	}
	if err := r.ledger.add(pos); err != nil {
		return err
	}
	r.events.append(Event{Ts: ts, BarIndex: st.barIdx, Type: EventEntryFill, Symbol: st.symbol(), Detail: fill.Price.String()})
	return nil
}

// resolveLevel picks the signal-supplied absolute level when present, else
// derives one from the configured percentage. above selects entry*(1+pct)
// versus entry*(1-pct).
func resolveLevel(fromSignal decimal.NullDecimal, pct decimal.NullDecimal, entry decimal.Decimal, above bool) decimal.NullDecimal {
	if fromSignal.Valid {
		return fromSignal
	}
	if !pct.Valid {
		return decimal.NullDecimal{}
	}
	factor := one.Sub(pct.Decimal)
	if above {
		factor = one.Add(pct.Decimal)
	}
	return decimal.NullDecimal{Decimal: entry.Mul(factor), Valid: true}
}

// stopDistancePct is (entry - stop) / entry, used by risk-based sizing.
// Zero when no stop is armed.
func stopDistancePct(entry decimal.Decimal, stop decimal.NullDecimal) decimal.Decimal {
	if !stop.Valid || !entry.IsPositive() {
		return decimal.Zero
	}
	dist := entry.Sub(stop.Decimal)
	if !dist.IsPositive() {
		return decimal.Zero
	}
	return dist.Div(entry)
}
