package strategies

import (
	"fmt"

	"github.com/shopspring/decimal"

	"backtest-engine/services/engine"
)

func init() {
	Register("ema_cross", func(params map[string]string) (Strategy, error) {
		s := NewEMACross()
		var err error
		if s.FastLen, err = intParam(params, "fast_len", s.FastLen); err != nil {
			return nil, err
		}
		if s.SlowLen, err = intParam(params, "slow_len", s.SlowLen); err != nil {
			return nil, err
		}
		if s.AtrLen, err = intParam(params, "atr_len", s.AtrLen); err != nil {
			return nil, err
		}
		if s.AtrMult, err = decimalParam(params, "atr_mult", s.AtrMult); err != nil {
			return nil, err
		}
		return s, s.validate()
	})
}

// EMACross enters when the fast EMA crosses above the slow EMA and exits on
// the cross back down. Its protective stop trails the entry by a multiple of
// the average true range.
type EMACross struct {
	FastLen int
	SlowLen int
	AtrLen  int
	// AtrMult scales the entry-to-stop distance; zero disables the stop.
	AtrMult decimal.Decimal
}

// NewEMACross returns the strategy with its standard parameters.
func NewEMACross() *EMACross {
	return &EMACross{
		FastLen: 20,
		SlowLen: 50,
		AtrLen:  14,
		AtrMult: decimal.NewFromInt(2),
	}
}

func (s *EMACross) validate() error {
	if s.FastLen < 1 || s.SlowLen < 1 {
		return fmt.Errorf("ema_cross: EMA lengths must be >= 1, got %d/%d", s.FastLen, s.SlowLen)
	}
	if s.FastLen >= s.SlowLen {
		return fmt.Errorf("ema_cross: fast_len %d must be < slow_len %d", s.FastLen, s.SlowLen)
	}
	if s.AtrLen < 1 {
		return fmt.Errorf("ema_cross: atr_len must be >= 1, got %d", s.AtrLen)
	}
	if s.AtrMult.IsNegative() {
		return fmt.Errorf("ema_cross: atr_mult must be >= 0, got %s", s.AtrMult)
	}
	return nil
}

func (s *EMACross) Name() string { return "ema_cross" }

func (s *EMACross) WarmupBars() int {
	w := s.SlowLen
	if s.AtrLen+1 > w {
		w = s.AtrLen + 1
	}
	return w
}

func (s *EMACross) Generate(bars engine.BarSeries) (engine.SignalSeries, error) {
	closes := closePrices(bars.Bars)
	fast := ema(closes, s.FastLen)
	slow := ema(closes, s.SlowLen)

	sigs := make([]engine.Signal, len(bars.Bars))
	for i := s.WarmupBars(); i < len(bars.Bars); i++ {
		crossedUp := fast[i-1] <= slow[i-1] && fast[i] > slow[i]
		crossedDown := fast[i-1] >= slow[i-1] && fast[i] < slow[i]
		if crossedUp {
			sigs[i].Entry = true
		}
		if crossedDown {
			sigs[i].Exit = true
		}
	}
	return engine.SignalSeries{Symbol: bars.Symbol, Signals: sigs}, nil
}

// StopLevel places the protective stop AtrMult true ranges under the signal
// bar's close. Absent until the ATR is seeded or when the multiple is zero.
func (s *EMACross) StopLevel(bars []engine.Bar, i int) decimal.NullDecimal {
	if !s.AtrMult.IsPositive() {
		return decimal.NullDecimal{}
	}
	ranges := atr(bars[:i+1], s.AtrLen)
	if ranges[i] == 0 {
		return decimal.NullDecimal{}
	}
	dist := s.AtrMult.Mul(decimal.NewFromFloat(ranges[i]))
	stop := bars[i].Close.Sub(dist)
	if !stop.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: stop, Valid: true}
}

var _ Strategy = (*EMACross)(nil)
var _ StopProvider = (*EMACross)(nil)
