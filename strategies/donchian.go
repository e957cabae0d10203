package strategies

import (
	"fmt"

	"github.com/shopspring/decimal"

	"backtest-engine/services/engine"
)

func init() {
	Register("donchian_breakout", func(params map[string]string) (Strategy, error) {
		s := NewDonchianBreakout()
		var err error
		if s.ChannelLen, err = intParam(params, "channel_len", s.ChannelLen); err != nil {
			return nil, err
		}
		if s.TrendLen, err = intParam(params, "trend_len", s.TrendLen); err != nil {
			return nil, err
		}
		if s.TakeProfitPct, err = decimalParam(params, "take_profit_pct", s.TakeProfitPct); err != nil {
			return nil, err
		}
		return s, s.validate()
	})
}

// DonchianBreakout buys strength: while the close holds above a long EMA it
// arms a buy-stop at the upper Donchian band, so the position opens only when
// the next bar actually trades through the channel high. It exits on a close
// back under the channel basis and stops out at the channel low.
type DonchianBreakout struct {
	ChannelLen int
	// TrendLen is the EMA trend filter period.
	TrendLen int
	// TakeProfitPct, when positive, places a take-profit that far above the
	// breakout level.
	TakeProfitPct decimal.Decimal
}

// NewDonchianBreakout returns the strategy with its standard parameters.
func NewDonchianBreakout() *DonchianBreakout {
	return &DonchianBreakout{
		ChannelLen:    20,
		TrendLen:      200,
		TakeProfitPct: decimal.Zero,
	}
}

func (s *DonchianBreakout) validate() error {
	if s.ChannelLen < 1 {
		return fmt.Errorf("donchian_breakout: channel_len must be >= 1, got %d", s.ChannelLen)
	}
	if s.TrendLen < 1 {
		return fmt.Errorf("donchian_breakout: trend_len must be >= 1, got %d", s.TrendLen)
	}
	if s.TakeProfitPct.IsNegative() {
		return fmt.Errorf("donchian_breakout: take_profit_pct must be >= 0, got %s", s.TakeProfitPct)
	}
	return nil
}

func (s *DonchianBreakout) Name() string { return "donchian_breakout" }

func (s *DonchianBreakout) WarmupBars() int {
	if s.TrendLen > s.ChannelLen {
		return s.TrendLen
	}
	return s.ChannelLen
}

// Generate emits a breakout entry for every bar in an uptrend and an exit for
// every close under the basis. Position state is the engine's concern; an
// entry while already long is simply ignored there.
func (s *DonchianBreakout) Generate(bars engine.BarSeries) (engine.SignalSeries, error) {
	closes := closePrices(bars.Bars)
	trend := ema(closes, s.TrendLen)
	_, _, basis := donchian(bars.Bars, s.ChannelLen)

	sigs := make([]engine.Signal, len(bars.Bars))
	for i := s.WarmupBars(); i < len(bars.Bars); i++ {
		if closes[i] > trend[i] {
			target := highestHigh(bars.Bars, i, s.ChannelLen)
			sigs[i].Entry = true
			sigs[i].Target = decimal.NullDecimal{Decimal: target, Valid: true}
			if s.TakeProfitPct.IsPositive() {
				tp := target.Mul(decimal.NewFromInt(1).Add(s.TakeProfitPct))
				sigs[i].TakeProfit = decimal.NullDecimal{Decimal: tp, Valid: true}
			}
		}
		if closes[i] < basis[i] {
			sigs[i].Exit = true
		}
	}
	return engine.SignalSeries{Symbol: bars.Symbol, Signals: sigs}, nil
}

// StopLevel places the protective stop at the channel low of the signal bar.
func (s *DonchianBreakout) StopLevel(bars []engine.Bar, i int) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: lowestLow(bars, i, s.ChannelLen), Valid: true}
}

var _ Strategy = (*DonchianBreakout)(nil)
var _ StopProvider = (*DonchianBreakout)(nil)
