package engine

import "github.com/shopspring/decimal"

// EquityPoint is one mark-to-market snapshot of portfolio value.
type EquityPoint struct {
	Timestamp int64
	Equity    decimal.Decimal
	Drawdown  decimal.Decimal // fraction of peak given up, >= 0
}

// snapshotEquity appends cash + mark-to-market value of every open position
// at the current closes. Runs after exit and entry evaluation each bar.
func (r *runState) snapshotEquity(ts int64) error {
	equity := r.book.cash
	for _, st := range r.assets {
		pos := r.ledger.position(st.symbol())
		if pos == nil {
			continue
		}
		if st.barIdx < 0 {
			// evaluateExit either liquidated or errored already; reaching
			// here means the position survived without a price.
			return dataErrf(st.symbol(), st.cursor, "no close price for open position at ts %d", ts)
		}
		equity = equity.Add(pos.Quantity.Mul(st.bar().Close))
	}

	if equity.GreaterThan(r.peak) {
		r.peak = equity
	}
	drawdown := decimal.Zero
	if r.peak.IsPositive() {
		drawdown = r.peak.Sub(equity).Div(r.peak)
	}
	r.curve = append(r.curve, EquityPoint{Timestamp: ts, Equity: equity, Drawdown: drawdown})
	return nil
}
