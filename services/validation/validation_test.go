package validation

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"backtest-engine/services/engine"
)

func testEngineConfig() engine.Config {
	return engine.Config{
		InitialCapital: decimal.NewFromInt(10000),
		MaxSlots:       1,
	}
}

// risingBars builds n daily bars climbing one unit per bar.
func risingBars(symbol string, n int) engine.BarSeries {
	const dayMs = 24 * 3600 * 1000
	bars := make([]engine.Bar, n)
	for i := range bars {
		p := decimal.NewFromInt(int64(100 + i))
		bars[i] = engine.Bar{
			Timestamp: int64(1577836800000 + i*dayMs),
			Open:      p, High: p, Low: p, Close: p,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return engine.BarSeries{Symbol: symbol, Bars: bars}
}

// alwaysEnter signals entry on every bar and never exits, so each fold rides
// one position from its second bar to liquidation.
type alwaysEnter struct{}

func (alwaysEnter) Generate(bars engine.BarSeries) (engine.SignalSeries, error) {
	sigs := make([]engine.Signal, len(bars.Bars))
	for i := range sigs {
		sigs[i] = engine.Signal{Entry: true}
	}
	return engine.SignalSeries{Symbol: bars.Symbol, Signals: sigs}, nil
}

func TestWalkForwardFoldBoundaries(t *testing.T) {
	wf, err := NewWalkForward(testEngineConfig(), WalkForwardConfig{Folds: 3, TrainBars: 10})
	if err != nil {
		t.Fatalf("NewWalkForward: %v", err)
	}

	data := &engine.MarketData{Assets: []engine.AssetData{{Bars: risingBars("AAA", 41)}}}
	data.Assets[0].Signals, _ = alwaysEnter{}.Generate(data.Assets[0].Bars)

	report, err := wf.Run(context.Background(), data, alwaysEnter{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Folds) != 3 {
		t.Fatalf("expected 3 folds, got %d", len(report.Folds))
	}

	// 31 usable bars over 3 folds: 10, 10, and 11 with the remainder.
	want := []struct{ trainStart, testStart, testEnd int }{
		{0, 10, 20},
		{10, 20, 30},
		{20, 30, 41},
	}
	for i, w := range want {
		f := &report.Folds[i]
		if f.TrainStart != w.trainStart || f.TestStart != w.testStart || f.TestEnd != w.testEnd {
			t.Fatalf("fold %d boundaries = [%d %d %d), want [%d %d %d)",
				i, f.TrainStart, f.TestStart, f.TestEnd, w.trainStart, w.testStart, w.testEnd)
		}
		if f.Result == nil {
			t.Fatalf("fold %d has no result", i)
		}
	}
}

func TestWalkForwardAnchoredTrainGrowsFromStart(t *testing.T) {
	wf, err := NewWalkForward(testEngineConfig(), WalkForwardConfig{Folds: 2, TrainBars: 5, Anchored: true})
	if err != nil {
		t.Fatalf("NewWalkForward: %v", err)
	}
	data := &engine.MarketData{Assets: []engine.AssetData{{Bars: risingBars("AAA", 25)}}}
	data.Assets[0].Signals, _ = alwaysEnter{}.Generate(data.Assets[0].Bars)

	report, err := wf.Run(context.Background(), data, alwaysEnter{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i := range report.Folds {
		if report.Folds[i].TrainStart != 0 {
			t.Fatalf("anchored fold %d train start = %d, want 0", i, report.Folds[i].TrainStart)
		}
	}
}

func TestWalkForwardProfitableOnRisingMarket(t *testing.T) {
	wf, err := NewWalkForward(testEngineConfig(), WalkForwardConfig{Folds: 2, TrainBars: 5})
	if err != nil {
		t.Fatalf("NewWalkForward: %v", err)
	}
	data := &engine.MarketData{Assets: []engine.AssetData{{Bars: risingBars("AAA", 25)}}}
	data.Assets[0].Signals, _ = alwaysEnter{}.Generate(data.Assets[0].Bars)

	report, err := wf.Run(context.Background(), data, alwaysEnter{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.NetProfit.IsPositive() {
		t.Fatalf("rising market should profit, net = %s", report.NetProfit)
	}
	if report.ProfitableFolds != 2 {
		t.Fatalf("both folds should profit, got %d", report.ProfitableFolds)
	}
	// Each fold holds exactly one liquidated position.
	if report.TotalTrades != 2 {
		t.Fatalf("expected 2 trades, got %d", report.TotalTrades)
	}
}

func TestWalkForwardRejectsShortHistory(t *testing.T) {
	wf, err := NewWalkForward(testEngineConfig(), WalkForwardConfig{Folds: 5, TrainBars: 10})
	if err != nil {
		t.Fatalf("NewWalkForward: %v", err)
	}
	data := &engine.MarketData{Assets: []engine.AssetData{{Bars: risingBars("AAA", 12)}}}
	data.Assets[0].Signals, _ = alwaysEnter{}.Generate(data.Assets[0].Bars)

	if _, err := wf.Run(context.Background(), data, alwaysEnter{}); err == nil {
		t.Fatal("expected error for history too short to segment")
	}
}

func TestWalkForwardConfigValidation(t *testing.T) {
	if _, err := NewWalkForward(testEngineConfig(), WalkForwardConfig{Folds: 0, TrainBars: 5}); err == nil {
		t.Fatal("expected error for zero folds")
	}
	if _, err := NewWalkForward(testEngineConfig(), WalkForwardConfig{Folds: 2, TrainBars: 0}); err == nil {
		t.Fatal("expected error for zero train bars")
	}
}
