package engine

import "github.com/shopspring/decimal"

// TradeSide is the direction of a fill.
type TradeSide int

const (
	TradeSideBuy TradeSide = iota
	TradeSideSell
)

func (s TradeSide) String() string {
	if s == TradeSideBuy {
		return "buy"
	}
	return "sell"
}

// Fill is the cost-adjusted outcome of executing at a theoretical price.
// Commission and slippage stay individually retrievable for attribution;
// they are never folded silently into PnL.
type Fill struct {
	Price      decimal.Decimal // realized price after slippage
	Notional   decimal.Decimal // Price * quantity
	Commission decimal.Decimal
	Slippage   decimal.Decimal // cost in quote currency
}

// CostModel converts a theoretical trigger price and quantity into a
// realized fill. Implementations must be pure.
type CostModel interface {
	// Quote returns the slippage-adjusted price for the side, before any
	// quantity is known. Entry sizing divides the allocated notional by it.
	Quote(side TradeSide, price decimal.Decimal) decimal.Decimal
	Apply(side TradeSide, price, quantity decimal.Decimal) Fill
}

// RateCostModel charges commission as notional*feeRate and moves the fill
// price against the trader by price*slippageRate: up on buys, down on sells.
type RateCostModel struct {
	FeeRate      decimal.Decimal
	SlippageRate decimal.Decimal
}

func (m RateCostModel) Quote(side TradeSide, price decimal.Decimal) decimal.Decimal {
	slip := price.Mul(m.SlippageRate)
	if side == TradeSideSell {
		return price.Sub(slip)
	}
	return price.Add(slip)
}

func (m RateCostModel) Apply(side TradeSide, price, quantity decimal.Decimal) Fill {
	realized := m.Quote(side, price)
	slip := realized.Sub(price).Abs()
	notional := realized.Mul(quantity)
	return Fill{
		Price:      realized,
		Notional:   notional,
		Commission: notional.Mul(m.FeeRate),
		Slippage:   slip.Mul(quantity),
	}
}
