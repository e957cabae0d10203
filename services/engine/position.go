package engine

import "github.com/shopspring/decimal"

// ExitReason says which rule closed a position. Order matters: it is the
// evaluation priority on each bar.
type ExitReason int

const (
	ExitStopLoss ExitReason = iota
	ExitTakeProfit
	ExitTrailingStop
	ExitSignal
	// ExitWhipsaw marks an exit whose bar would also have qualified for
	// re-entry; the re-entry is suppressed.
	ExitWhipsaw
	// ExitLiquidation marks the forced close after the final bar. Counted
	// in metrics but flagged so callers can exclude incomplete trades.
	ExitLiquidation
)

func (r ExitReason) String() string {
	switch r {
	case ExitStopLoss:
		return "stop_loss"
	case ExitTakeProfit:
		return "take_profit"
	case ExitTrailingStop:
		return "trailing_stop"
	case ExitSignal:
		return "exit_signal"
	case ExitWhipsaw:
		return "whipsaw"
	case ExitLiquidation:
		return "end_of_data"
	default:
		return "unknown"
	}
}

// Position is a live long holding in one symbol. Created only by the entry
// evaluator, destroyed only by the exit evaluator; the sole per-bar mutation
// is the trailing high-water mark.
type Position struct {
	Symbol        string
	EntryTime     int64
	EntryBarIndex int
	EntryPrice    decimal.Decimal // realized, slippage-adjusted
	Quantity      decimal.Decimal
	Notional      decimal.Decimal // EntryPrice * Quantity at entry

	// CapitalCommitted is Notional plus the entry commission: exactly the
	// cash that left the book when the position opened.
	CapitalCommitted decimal.Decimal

	EntryCommission decimal.Decimal
	EntrySlippage   decimal.Decimal

	// Exit levels resolved at entry. Null means the rule is not armed.
	StopPrice       decimal.NullDecimal
	TakeProfitPrice decimal.NullDecimal
	TrailingPct     decimal.NullDecimal

	// HighestSinceEntry is the trailing-stop reference, updated once per
	// bar after exit evaluation so a bar's own spike cannot both raise the
	// mark and trigger against it.
	HighestSinceEntry decimal.Decimal
}

// trailingLevel returns the armed trailing-stop price, or false.
func (p *Position) trailingLevel() (decimal.Decimal, bool) {
	if !p.TrailingPct.Valid {
		return decimal.Zero, false
	}
	return p.HighestSinceEntry.Mul(one.Sub(p.TrailingPct.Decimal)), true
}

// Trade is the immutable record a closed position leaves behind.
type Trade struct {
	Symbol     string
	EntryTime  int64
	ExitTime   int64
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Quantity   decimal.Decimal

	RealizedPnl decimal.Decimal // net of all commission and slippage
	PnlPct      decimal.Decimal // RealizedPnl / capital committed, in percent
	Reason      ExitReason

	Commission decimal.Decimal // entry + exit
	Slippage   decimal.Decimal // entry + exit
	BarsHeld   int
}

// Liquidated reports whether the trade was forced closed at end of data.
func (t *Trade) Liquidated() bool { return t.Reason == ExitLiquidation }

// ledger owns the open positions and the append-only closed-trade list for
// one run.
type ledger struct {
	open   map[string]*Position
	trades []Trade
}

func newLedger() *ledger {
	return &ledger{open: make(map[string]*Position)}
}

func (l *ledger) position(symbol string) *Position { return l.open[symbol] }

func (l *ledger) add(p *Position) error {
	if _, exists := l.open[p.Symbol]; exists {
		return invariantErrf(p.Symbol, p.EntryBarIndex, "duplicate open position")
	}
	l.open[p.Symbol] = p
	return nil
}

// close destroys the position and appends its trade. Double-close is an
// invariant violation.
func (l *ledger) close(symbol string, bar int, t Trade) error {
	if _, exists := l.open[symbol]; !exists {
		return invariantErrf(symbol, bar, "close of a position that is not open")
	}
	delete(l.open, symbol)
	l.trades = append(l.trades, t)
	return nil
}

// committedCapital sums CapitalCommitted over all open positions.
func (l *ledger) committedCapital() decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.open {
		total = total.Add(p.CapitalCommitted)
	}
	return total
}
