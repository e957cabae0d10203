package strategies

import (
	"testing"

	"github.com/shopspring/decimal"

	"backtest-engine/services/engine"
)

// flatOHLC builds bars where every price field equals the given close.
func flatOHLC(symbol string, closes ...string) engine.BarSeries {
	const dayMs = 24 * 3600 * 1000
	bars := make([]engine.Bar, len(closes))
	for i, c := range closes {
		p := decimal.RequireFromString(c)
		bars[i] = engine.Bar{
			Timestamp: int64(1577836800000 + i*dayMs),
			Open:      p, High: p, Low: p, Close: p,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return engine.BarSeries{Symbol: symbol, Bars: bars}
}

func TestRegistryBuildsKnownStrategies(t *testing.T) {
	for _, name := range []string{"donchian_breakout", "ema_cross"} {
		s, err := Build(name, nil)
		if err != nil {
			t.Fatalf("Build(%s): %v", name, err)
		}
		if s.Name() != name {
			t.Fatalf("Build(%s) returned strategy named %s", name, s.Name())
		}
	}
}

func TestRegistryRejectsUnknownName(t *testing.T) {
	if _, err := Build("no_such_strategy", nil); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestRegistryRejectsBadParams(t *testing.T) {
	if _, err := Build("donchian_breakout", map[string]string{"channel_len": "abc"}); err == nil {
		t.Fatal("expected error for non-numeric channel_len")
	}
	if _, err := Build("donchian_breakout", map[string]string{"channel_len": "0"}); err == nil {
		t.Fatal("expected error for zero channel_len")
	}
	if _, err := Build("ema_cross", map[string]string{"fast_len": "50", "slow_len": "20"}); err == nil {
		t.Fatal("expected error for fast_len >= slow_len")
	}
}

func TestRegistryAppliesParams(t *testing.T) {
	s, err := Build("donchian_breakout", map[string]string{
		"channel_len":     "5",
		"trend_len":       "10",
		"take_profit_pct": "0.03",
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	d := s.(*DonchianBreakout)
	if d.ChannelLen != 5 || d.TrendLen != 10 || !d.TakeProfitPct.Equal(decimal.RequireFromString("0.03")) {
		t.Fatalf("params not applied: %+v", d)
	}
}

func TestDonchianEmitsBreakoutEntryAndBasisExit(t *testing.T) {
	s := &DonchianBreakout{ChannelLen: 2, TrendLen: 2}
	bars := flatOHLC("AAA", "10", "10", "12", "9")

	sigs, err := s.Generate(bars)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(sigs.Signals) != 4 {
		t.Fatalf("expected 4 signals, got %d", len(sigs.Signals))
	}

	// Bar 2 closes at 12 above the 2-bar EMA: entry armed at the channel
	// high of bars 1..2.
	if !sigs.Signals[2].Entry {
		t.Fatal("expected entry on bar 2")
	}
	if !sigs.Signals[2].Target.Valid || !sigs.Signals[2].Target.Decimal.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("entry target = %+v, want 12", sigs.Signals[2].Target)
	}

	// Bar 3 closes at 9 under the basis (12+9)/2 = 10.5.
	if !sigs.Signals[3].Exit {
		t.Fatal("expected exit on bar 3")
	}
	if sigs.Signals[3].Entry {
		t.Fatal("falling close under the trend EMA must not arm an entry")
	}

	// Warmup bars stay silent.
	if sigs.Signals[0].Entry || sigs.Signals[0].Exit || sigs.Signals[1].Entry || sigs.Signals[1].Exit {
		t.Fatal("signals fired inside warmup")
	}
}

func TestDonchianTakeProfitScalesFromBreakout(t *testing.T) {
	s := &DonchianBreakout{ChannelLen: 2, TrendLen: 2, TakeProfitPct: decimal.RequireFromString("0.05")}
	bars := flatOHLC("AAA", "10", "10", "12", "13")

	sigs, err := s.Generate(bars)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	tp := sigs.Signals[2].TakeProfit
	if !tp.Valid || !tp.Decimal.Equal(decimal.RequireFromString("12.6")) {
		t.Fatalf("take profit = %+v, want 12.6", tp)
	}
}

func TestSignalsAttachesProviderStopsToEntriesOnly(t *testing.T) {
	s := &DonchianBreakout{ChannelLen: 2, TrendLen: 2}
	bars := flatOHLC("AAA", "10", "10", "12", "9")

	sigs, err := Signals(s, bars)
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	if !sigs.Signals[2].Stop.Valid || !sigs.Signals[2].Stop.Decimal.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("entry stop = %+v, want channel low 10", sigs.Signals[2].Stop)
	}
	if sigs.Signals[3].Stop.Valid {
		t.Fatal("non-entry signal must not carry a stop")
	}
}

func TestEMACrossDetectsCrossUp(t *testing.T) {
	s := &EMACross{FastLen: 1, SlowLen: 2, AtrLen: 1, AtrMult: decimal.NewFromInt(1)}
	bars := flatOHLC("AAA", "10", "10", "5", "20")

	sigs, err := s.Generate(bars)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sigs.Signals[2].Entry {
		t.Fatal("no cross up on bar 2")
	}
	if !sigs.Signals[3].Entry {
		t.Fatal("expected cross-up entry on bar 3")
	}
}

func TestEMACrossDetectsCrossDown(t *testing.T) {
	s := &EMACross{FastLen: 1, SlowLen: 2, AtrLen: 1, AtrMult: decimal.NewFromInt(1)}
	bars := flatOHLC("AAA", "10", "10", "20", "5")

	sigs, err := s.Generate(bars)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !sigs.Signals[3].Exit {
		t.Fatal("expected cross-down exit on bar 3")
	}
}

func TestEMACrossStopSitsBelowClose(t *testing.T) {
	s := NewEMACross()
	bars := flatOHLC("AAA", "100", "102", "98", "103", "105", "101", "104", "106", "102", "107",
		"108", "104", "109", "111", "107", "112", "113", "110", "114", "116")

	i := len(bars.Bars) - 1
	stop := s.StopLevel(bars.Bars, i)
	if !stop.Valid {
		t.Fatal("expected a stop once ATR is seeded")
	}
	if !stop.Decimal.LessThan(bars.Bars[i].Close) {
		t.Fatalf("stop %s must sit below close %s", stop.Decimal, bars.Bars[i].Close)
	}
}

func TestEMACrossStopAbsentBeforeWarmup(t *testing.T) {
	s := NewEMACross()
	bars := flatOHLC("AAA", "100", "101", "102")
	if s.StopLevel(bars.Bars, 2).Valid {
		t.Fatal("stop must be absent before the ATR is seeded")
	}
}
