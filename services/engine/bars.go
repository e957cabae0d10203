package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents a single OHLCV bar. Timestamps are Unix milliseconds, UTC.
type Bar struct {
	Timestamp int64
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Time returns the bar timestamp as a UTC time.
func (b Bar) Time() time.Time { return time.UnixMilli(b.Timestamp).UTC() }

// BarSeries is the ordered price history for one symbol.
type BarSeries struct {
	Symbol string
	Bars   []Bar
}

// Validate checks the timestamp axis: strictly increasing, no duplicates.
// OHLC consistency (high >= low etc.) is a data-quality concern upstream of
// the engine and is not enforced here.
func (s *BarSeries) Validate() error {
	if s.Symbol == "" {
		return dataErr("", -1, "bar series has empty symbol")
	}
	for i := 1; i < len(s.Bars); i++ {
		if s.Bars[i].Timestamp <= s.Bars[i-1].Timestamp {
			return dataErrf(s.Symbol, i, "non-monotonic timestamp %d after %d",
				s.Bars[i].Timestamp, s.Bars[i-1].Timestamp)
		}
	}
	return nil
}

// Signal is the per-bar strategy annotation. Optional levels use
// decimal.NullDecimal so "absent" is distinguishable from zero.
type Signal struct {
	Entry      bool
	Exit       bool
	Target     decimal.NullDecimal
	Stop       decimal.NullDecimal
	TakeProfit decimal.NullDecimal
}

// SignalSeries carries one Signal per bar of the matching BarSeries.
type SignalSeries struct {
	Symbol  string
	Signals []Signal
}

// AssetData pairs a symbol's bars with its pre-computed signals.
type AssetData struct {
	Bars    BarSeries
	Signals SignalSeries
}

// Validate checks the bars themselves plus bar/signal alignment.
func (a *AssetData) Validate() error {
	if err := a.Bars.Validate(); err != nil {
		return err
	}
	if a.Signals.Symbol != a.Bars.Symbol {
		return dataErrf(a.Bars.Symbol, -1, "signal series symbol %q does not match bars",
			a.Signals.Symbol)
	}
	if len(a.Signals.Signals) != len(a.Bars.Bars) {
		return dataErrf(a.Bars.Symbol, -1, "signal count %d does not match bar count %d",
			len(a.Signals.Signals), len(a.Bars.Bars))
	}
	return nil
}

// MarketData is the full input for one simulation run. Assets keep their
// input order so every run iterates them identically.
type MarketData struct {
	Assets []AssetData
}

// Validate checks each asset and rejects duplicate symbols.
func (m *MarketData) Validate() error {
	if len(m.Assets) == 0 {
		return dataErr("", -1, "no assets supplied")
	}
	seen := make(map[string]bool, len(m.Assets))
	for i := range m.Assets {
		if err := m.Assets[i].Validate(); err != nil {
			return err
		}
		sym := m.Assets[i].Bars.Symbol
		if seen[sym] {
			return dataErrf(sym, -1, "duplicate asset symbol")
		}
		seen[sym] = true
	}
	return nil
}

// timeAxis merges the timestamp axes of all assets into one sorted, deduped
// slice. Assets need not share identical histories; an asset simply has no
// bar at steps outside its own history.
func (m *MarketData) timeAxis() []int64 {
	total := 0
	for i := range m.Assets {
		total += len(m.Assets[i].Bars.Bars)
	}
	axis := make([]int64, 0, total)
	cursors := make([]int, len(m.Assets))
	for {
		next := int64(-1)
		for i := range m.Assets {
			bars := m.Assets[i].Bars.Bars
			if cursors[i] >= len(bars) {
				continue
			}
			ts := bars[cursors[i]].Timestamp
			if next < 0 || ts < next {
				next = ts
			}
		}
		if next < 0 {
			return axis
		}
		axis = append(axis, next)
		for i := range m.Assets {
			bars := m.Assets[i].Bars.Bars
			if cursors[i] < len(bars) && bars[cursors[i]].Timestamp == next {
				cursors[i]++
			}
		}
	}
}
