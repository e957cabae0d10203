package engine

import "github.com/shopspring/decimal"

// Exit evaluation. Runs once per open position per bar, before any entry
// evaluation on that bar. Conditions are tested in strict priority order:
// stop-loss, take-profit, trailing-stop, then the prior bar's strategy exit
// signal. The first match determines both the reason and the theoretical
// trigger price; the cost model then degrades that price into the realized
// exit.

// evaluateExit closes st's position if any exit rule fires on this bar.
// A missing bar while a position is open is a fatal data gap, except at the
// end of the asset's history, which liquidates instead.
func (r *runState) evaluateExit(st *assetState, ts int64) error {
	pos := r.ledger.position(st.symbol())
	if pos == nil {
		return nil
	}
	if st.barIdx < 0 {
		if st.cursor >= len(st.data.Bars.Bars) {
			// Asset history ended while the global axis continues.
			last := len(st.data.Bars.Bars) - 1
			return r.closeAt(st, pos, last, st.data.Bars.Bars[last].Timestamp,
				st.data.Bars.Bars[last].Close, ExitLiquidation)
		}
		// A gap would silently poison the equity curve; fail loudly.
		return dataErrf(st.symbol(), st.cursor, "price missing at ts %d with open position", ts)
	}

	bar := st.bar()
	trigger, reason, fired := triggerFor(pos, bar, st)
	if !fired {
		return nil
	}

	// Whipsaw: the same bar would also qualify for re-entry. Record the
	// exit under that reason and suppress the re-entry.
	if r.wouldReenter(st, bar) {
		reason = ExitWhipsaw
		st.blockedUntil = st.barIdx + r.engine.cfg.WhipsawSuppressBars
		r.events.append(Event{Ts: ts, BarIndex: st.barIdx, Type: EventWhipsawSuppressed, Symbol: st.symbol()})
	}

	return r.closeAt(st, pos, st.barIdx, ts, trigger, reason)
}

// triggerFor applies the priority ordering and returns the theoretical
// trigger price of the first rule that fires.
func triggerFor(pos *Position, bar Bar, st *assetState) (decimal.Decimal, ExitReason, bool) {
	if pos.StopPrice.Valid && bar.Low.LessThanOrEqual(pos.StopPrice.Decimal) {
		return sellTriggerPrice(bar, pos.StopPrice.Decimal), ExitStopLoss, true
	}
	if pos.TakeProfitPrice.Valid && bar.High.GreaterThanOrEqual(pos.TakeProfitPrice.Decimal) {
		return sellLimitPrice(bar, pos.TakeProfitPrice.Decimal), ExitTakeProfit, true
	}
	if level, armed := pos.trailingLevel(); armed && bar.Low.LessThanOrEqual(level) {
		return sellTriggerPrice(bar, level), ExitTrailingStop, true
	}
	if sig, ok := st.priorSignal(); ok && sig.Exit {
		return bar.Open, ExitSignal, true
	}
	return decimal.Zero, 0, false
}

// sellTriggerPrice is the fill for a protective stop: the stop level, or the
// open when the bar gapped through it.
func sellTriggerPrice(bar Bar, stop decimal.Decimal) decimal.Decimal {
	if bar.Open.LessThanOrEqual(stop) {
		return bar.Open
	}
	return stop
}

// sellLimitPrice is the fill for a take-profit limit: the level, or the open
// when the bar opened beyond it.
func sellLimitPrice(bar Bar, limit decimal.Decimal) decimal.Decimal {
	if bar.Open.GreaterThanOrEqual(limit) {
		return bar.Open
	}
	return limit
}

// wouldReenter reports whether this bar satisfies the entry rule that the
// entry evaluator would otherwise act on after this exit.
func (r *runState) wouldReenter(st *assetState, bar Bar) bool {
	sig, ok := st.priorSignal()
	if !ok || !sig.Entry {
		return false
	}
	if sig.Target.Valid && bar.High.LessThan(sig.Target.Decimal) {
		return false
	}
	return true
}

// closeAt converts the position into a trade at the given trigger price,
// applying exit costs and releasing capital and the slot.
func (r *runState) closeAt(st *assetState, pos *Position, barIdx int, ts int64, trigger decimal.Decimal, reason ExitReason) error {
	fill := r.engine.costs.Apply(TradeSideSell, trigger, pos.Quantity)
	proceeds := fill.Notional.Sub(fill.Commission)
	pnl := proceeds.Sub(pos.CapitalCommitted)
	pnlPct := decimal.Zero
	if pos.CapitalCommitted.IsPositive() {
		pnlPct = pnl.Div(pos.CapitalCommitted).Mul(hundred)
	}

	trade := Trade{
		Symbol:      pos.Symbol,
		EntryTime:   pos.EntryTime,
		ExitTime:    ts,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   fill.Price,
		Quantity:    pos.Quantity,
		RealizedPnl: pnl,
		PnlPct:      pnlPct,
		Reason:      reason,
		Commission:  pos.EntryCommission.Add(fill.Commission),
		Slippage:    pos.EntrySlippage.Add(fill.Slippage),
		BarsHeld:    barIdx - pos.EntryBarIndex + 1,
	}

	if err := r.ledger.close(pos.Symbol, barIdx, trade); err != nil {
		return err
	}
	if err := r.book.release(pos.Symbol, barIdx, proceeds, pnl); err != nil {
		return err
	}
	st.closedThisStep = true

	evType := EventExitFill
	if reason == ExitLiquidation {
		evType = EventLiquidation
	}
	r.events.append(Event{Ts: ts, BarIndex: barIdx, Type: evType, Symbol: pos.Symbol, Detail: reason.String()})
	return nil
}
