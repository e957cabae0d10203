package validation

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"backtest-engine/services/engine"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// spikeData builds a history that is flat except for one sharp rally, with a
// single entry signal placed right before it. Shuffling the signal in time
// almost always misses the rally.
func spikeData(n, signalAt int) *engine.MarketData {
	const dayMs = 24 * 3600 * 1000
	bars := make([]engine.Bar, n)
	for i := range bars {
		price := int64(100)
		if i > signalAt+1 {
			price = 200 // rally after the signalled fill bar
		}
		p := dec(price)
		bars[i] = engine.Bar{
			Timestamp: int64(1577836800000 + i*dayMs),
			Open:      p, High: p, Low: p, Close: p,
			Volume: dec(1000),
		}
	}
	sigs := make([]engine.Signal, n)
	sigs[signalAt] = engine.Signal{Entry: true}
	return &engine.MarketData{Assets: []engine.AssetData{{
		Bars:    engine.BarSeries{Symbol: "AAA", Bars: bars},
		Signals: engine.SignalSeries{Symbol: "AAA", Signals: sigs},
	}}}
}

func TestPermutationDetectsTimedEdge(t *testing.T) {
	pt, err := NewPermutationTest(testEngineConfig(), PermutationConfig{Iterations: 99, Seed: 3})
	if err != nil {
		t.Fatalf("NewPermutationTest: %v", err)
	}

	report, err := pt.Run(context.Background(), spikeData(60, 2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !report.ActualNetProfit.IsPositive() {
		t.Fatalf("baseline should profit from the rally, got %s", report.ActualNetProfit)
	}
	// Shuffled signals land after the rally far more often than before it,
	// so matching the timed run should be rare.
	if report.PValue > 0.25 {
		t.Fatalf("timed edge should look non-random, p = %v", report.PValue)
	}
	if len(report.NetProfits) != 99 {
		t.Fatalf("expected 99 shuffled runs, got %d", len(report.NetProfits))
	}
}

func TestPermutationDeterministicForSeed(t *testing.T) {
	data := spikeData(40, 5)
	cfg := PermutationConfig{Iterations: 50, Seed: 11}

	pt, err := NewPermutationTest(testEngineConfig(), cfg)
	if err != nil {
		t.Fatalf("NewPermutationTest: %v", err)
	}
	a, err := pt.Run(context.Background(), data)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	b, err := pt.Run(context.Background(), data)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.PValue != b.PValue || a.BetterOrEqual != b.BetterOrEqual {
		t.Fatalf("same seed produced different reports: %+v vs %+v", a, b)
	}
	for i := range a.NetProfits {
		if a.NetProfits[i] != b.NetProfits[i] {
			t.Fatalf("iteration %d differs: %v vs %v", i, a.NetProfits[i], b.NetProfits[i])
		}
	}
}

func TestPermutationLeavesInputUntouched(t *testing.T) {
	data := spikeData(30, 4)
	pt, err := NewPermutationTest(testEngineConfig(), PermutationConfig{Iterations: 20, Seed: 1})
	if err != nil {
		t.Fatalf("NewPermutationTest: %v", err)
	}
	if _, err := pt.Run(context.Background(), data); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for i, s := range data.Assets[0].Signals.Signals {
		if s.Entry != (i == 4) {
			t.Fatalf("input signals mutated at index %d", i)
		}
	}
}
