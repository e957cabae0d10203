package engine

import (
	"testing"

	"github.com/shopspring/decimal"
)

func openTestPosition(stop, tp, trailPct string) *Position {
	p := &Position{
		Symbol:            "BTCUSDT",
		EntryPrice:        d("100"),
		Quantity:          d("1"),
		Notional:          d("100"),
		CapitalCommitted:  d("100"),
		HighestSinceEntry: d("100"),
	}
	if stop != "" {
		p.StopPrice = nd(stop)
	}
	if tp != "" {
		p.TakeProfitPrice = nd(tp)
	}
	if trailPct != "" {
		p.TrailingPct = nd(trailPct)
	}
	return p
}

// Stop-loss outranks take-profit when one bar spans both levels.
func TestExitPriorityStopBeatsTakeProfit(t *testing.T) {
	pos := openTestPosition("95", "110", "")
	bar := Bar{Open: d("100"), High: d("112"), Low: d("94"), Close: d("105")}
	st := &assetState{data: &AssetData{Signals: SignalSeries{Signals: make([]Signal, 2)}}, barIdx: 1}

	trigger, reason, fired := triggerFor(pos, bar, st)
	if !fired {
		t.Fatal("expected an exit")
	}
	if reason != ExitStopLoss {
		t.Fatalf("expected stop-loss priority, got %s", reason)
	}
	if !trigger.Equal(d("95")) {
		t.Fatalf("expected trigger at stop 95, got %s", trigger)
	}
}

func TestExitPriorityTakeProfitBeatsTrailing(t *testing.T) {
	pos := openTestPosition("", "110", "0.10")
	pos.HighestSinceEntry = d("120") // trailing level 108
	bar := Bar{Open: d("109"), High: d("111"), Low: d("107"), Close: d("108")}
	st := &assetState{data: &AssetData{Signals: SignalSeries{Signals: make([]Signal, 2)}}, barIdx: 1}

	_, reason, fired := triggerFor(pos, bar, st)
	if !fired || reason != ExitTakeProfit {
		t.Fatalf("expected take-profit before trailing, got fired=%v reason=%v", fired, reason)
	}
}

func TestTrailingStopUsesHighWaterMark(t *testing.T) {
	pos := openTestPosition("", "", "0.10")
	pos.HighestSinceEntry = d("150") // level 135
	bar := Bar{Open: d("140"), High: d("141"), Low: d("130"), Close: d("131")}
	st := &assetState{data: &AssetData{Signals: SignalSeries{Signals: make([]Signal, 2)}}, barIdx: 1}

	trigger, reason, fired := triggerFor(pos, bar, st)
	if !fired || reason != ExitTrailingStop {
		t.Fatalf("expected trailing stop, got fired=%v reason=%v", fired, reason)
	}
	if !trigger.Equal(d("135")) {
		t.Fatalf("expected trigger at 135, got %s", trigger)
	}
}

// A gap through the stop fills at the open, not at the stop level.
func TestGapThroughStopFillsAtOpen(t *testing.T) {
	pos := openTestPosition("95", "", "")
	bar := Bar{Open: d("90"), High: d("92"), Low: d("88"), Close: d("91")}
	st := &assetState{data: &AssetData{Signals: SignalSeries{Signals: make([]Signal, 2)}}, barIdx: 1}

	trigger, reason, fired := triggerFor(pos, bar, st)
	if !fired || reason != ExitStopLoss {
		t.Fatalf("expected stop exit, got fired=%v reason=%v", fired, reason)
	}
	if !trigger.Equal(d("90")) {
		t.Fatalf("gap exit should fill at open 90, got %s", trigger)
	}
}

func TestSignalExitFillsAtOpen(t *testing.T) {
	pos := openTestPosition("", "", "")
	sigs := make([]Signal, 3)
	sigs[1] = Signal{Exit: true}
	st := &assetState{data: &AssetData{Signals: SignalSeries{Signals: sigs}}, barIdx: 2}
	bar := Bar{Open: d("104"), High: d("106"), Low: d("103"), Close: d("105")}

	trigger, reason, fired := triggerFor(pos, bar, st)
	if !fired || reason != ExitSignal {
		t.Fatalf("expected signal exit, got fired=%v reason=%v", fired, reason)
	}
	if !trigger.Equal(d("104")) {
		t.Fatalf("expected exit at open, got %s", trigger)
	}
}

// An exit fill can never land outside the bar's range.
func TestExitFillWithinBarRange(t *testing.T) {
	cases := []struct {
		name string
		pos  *Position
		bar  Bar
	}{
		{"stop inside bar", openTestPosition("95", "", ""),
			Bar{Open: d("100"), High: d("101"), Low: d("94"), Close: d("96")}},
		{"tp inside bar", openTestPosition("", "108", ""),
			Bar{Open: d("100"), High: d("109"), Low: d("99"), Close: d("107")}},
		{"gap below stop", openTestPosition("95", "", ""),
			Bar{Open: d("92"), High: d("93"), Low: d("91"), Close: d("92")}},
	}
	st := &assetState{data: &AssetData{Signals: SignalSeries{Signals: make([]Signal, 2)}}, barIdx: 1}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trigger, _, fired := triggerFor(tc.pos, tc.bar, st)
			if !fired {
				t.Fatal("expected exit to fire")
			}
			if trigger.LessThan(tc.bar.Low) || trigger.GreaterThan(tc.bar.High) {
				t.Fatalf("trigger %s outside bar range [%s, %s]", trigger, tc.bar.Low, tc.bar.High)
			}
		})
	}
}

func TestDoubleCloseIsInvariantViolation(t *testing.T) {
	l := newLedger()
	if err := l.add(&Position{Symbol: "X", Quantity: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := l.close("X", 0, Trade{Symbol: "X"}); err != nil {
		t.Fatalf("first close: %v", err)
	}
	err := l.close("X", 0, Trade{Symbol: "X"})
	if err == nil || !IsKind(err, KindInvariant) {
		t.Fatalf("expected invariant violation on double close, got %v", err)
	}
}
