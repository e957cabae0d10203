package validation

import (
	"context"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"backtest-engine/services/engine"
)

// SignalGenerator produces per-bar signals for a price series. Strategies
// satisfy this interface; validation drivers call it once per segment so that
// indicators are recomputed from the segment's own history.
type SignalGenerator interface {
	Generate(bars engine.BarSeries) (engine.SignalSeries, error)
}

// WalkForwardConfig segments the history into sequential out-of-sample test
// windows, each preceded by a train window that warms up the generator's
// indicators but never opens positions.
type WalkForwardConfig struct {
	// Folds is the number of test windows.
	Folds int `json:"folds" yaml:"folds"`
	// TrainBars is the warm-up window length fed to the generator before
	// each test window.
	TrainBars int `json:"train_bars" yaml:"train_bars"`
	// Anchored grows the train window from the start of the history
	// instead of rolling it forward.
	Anchored bool `json:"anchored" yaml:"anchored"`
}

// Validate rejects configurations that cannot produce at least one fold.
func (c *WalkForwardConfig) Validate() error {
	if c.Folds < 1 {
		return fmt.Errorf("walk-forward: folds must be >= 1, got %d", c.Folds)
	}
	if c.TrainBars < 1 {
		return fmt.Errorf("walk-forward: train_bars must be >= 1, got %d", c.TrainBars)
	}
	return nil
}

// Fold is one out-of-sample evaluation window and its run result.
type Fold struct {
	Index      int
	TrainStart int
	TestStart  int
	TestEnd    int // exclusive
	Result     *engine.BacktestResult
}

// WalkForwardReport aggregates the out-of-sample folds.
type WalkForwardReport struct {
	Folds []Fold

	// NetProfit sums realized PnL over all out-of-sample windows.
	NetProfit decimal.Decimal
	// TotalTrades counts trades over all out-of-sample windows.
	TotalTrades int
	// MeanWinRate averages per-fold win rates, skipping trade-free folds.
	MeanWinRate float64
	// ProfitableFolds counts folds with positive net profit.
	ProfitableFolds int
}

// WalkForward drives segmented out-of-sample evaluation of one engine
// configuration.
type WalkForward struct {
	cfg       WalkForwardConfig
	engineCfg engine.Config
	opts      options
}

// NewWalkForward validates both configurations up front so Run can only fail
// on data or generator errors.
func NewWalkForward(engineCfg engine.Config, cfg WalkForwardConfig, opts ...Option) (*WalkForward, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := engineCfg.Validate(); err != nil {
		return nil, err
	}
	return &WalkForward{cfg: cfg, engineCfg: engineCfg, opts: newOptions(opts)}, nil
}

// Run evaluates gen over every fold of data, running folds in parallel. All
// assets must share the same bar count so fold boundaries mean the same bar
// range on every series.
func (w *WalkForward) Run(ctx context.Context, data *engine.MarketData, gen SignalGenerator) (*WalkForwardReport, error) {
	if len(data.Assets) == 0 {
		return nil, fmt.Errorf("walk-forward: no assets supplied")
	}
	n := len(data.Assets[0].Bars.Bars)
	for i := range data.Assets {
		if len(data.Assets[i].Bars.Bars) != n {
			return nil, fmt.Errorf("walk-forward: asset %s has %d bars, want %d",
				data.Assets[i].Bars.Symbol, len(data.Assets[i].Bars.Bars), n)
		}
	}

	testBars := (n - w.cfg.TrainBars) / w.cfg.Folds
	if testBars < 1 {
		return nil, fmt.Errorf("walk-forward: %d bars cannot fit %d folds after %d train bars",
			n, w.cfg.Folds, w.cfg.TrainBars)
	}

	report := &WalkForwardReport{
		Folds:     make([]Fold, w.cfg.Folds),
		NetProfit: decimal.Zero,
	}
	for i := range report.Folds {
		testStart := w.cfg.TrainBars + i*testBars
		testEnd := testStart + testBars
		if i == w.cfg.Folds-1 {
			testEnd = n // last fold absorbs the remainder
		}
		trainStart := testStart - w.cfg.TrainBars
		if w.cfg.Anchored {
			trainStart = 0
		}
		report.Folds[i] = Fold{
			Index:      i,
			TrainStart: trainStart,
			TestStart:  testStart,
			TestEnd:    testEnd,
		}
	}

	w.opts.logger.Info("starting walk-forward run",
		zap.Int("folds", w.cfg.Folds),
		zap.Int("train_bars", w.cfg.TrainBars),
		zap.Int("test_bars", testBars),
		zap.Int("workers", w.opts.workers),
	)

	err := runParallel(ctx, w.opts.workers, w.cfg.Folds, func(i int) error {
		res, err := w.runFold(data, gen, &report.Folds[i])
		if err != nil {
			return fmt.Errorf("fold %d: %w", i, err)
		}
		report.Folds[i].Result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	winRateSum := 0.0
	winRateFolds := 0
	for i := range report.Folds {
		m := &report.Folds[i].Result.Metrics
		report.NetProfit = report.NetProfit.Add(m.NetProfit)
		report.TotalTrades += m.TotalTrades
		if m.NetProfit.IsPositive() {
			report.ProfitableFolds++
		}
		if !math.IsNaN(m.WinRate) {
			winRateSum += m.WinRate
			winRateFolds++
		}
	}
	if winRateFolds == 0 {
		report.MeanWinRate = math.NaN()
	} else {
		report.MeanWinRate = winRateSum / float64(winRateFolds)
	}
	return report, nil
}

// runFold generates signals over the train+test slice of every asset, then
// simulates the test slice only. Signal indices shift with the slice, so the
// generator's warm-up bars influence signal values without entering the run.
func (w *WalkForward) runFold(data *engine.MarketData, gen SignalGenerator, f *Fold) (*engine.BacktestResult, error) {
	assets := make([]engine.AssetData, len(data.Assets))
	for i := range data.Assets {
		src := &data.Assets[i]
		window := engine.BarSeries{
			Symbol: src.Bars.Symbol,
			Bars:   src.Bars.Bars[f.TrainStart:f.TestEnd],
		}
		sigs, err := gen.Generate(window)
		if err != nil {
			return nil, fmt.Errorf("generate %s: %w", window.Symbol, err)
		}
		if len(sigs.Signals) != len(window.Bars) {
			return nil, fmt.Errorf("generate %s: %d signals for %d bars",
				window.Symbol, len(sigs.Signals), len(window.Bars))
		}
		offset := f.TestStart - f.TrainStart
		assets[i] = engine.AssetData{
			Bars: engine.BarSeries{
				Symbol: src.Bars.Symbol,
				Bars:   src.Bars.Bars[f.TestStart:f.TestEnd],
			},
			Signals: engine.SignalSeries{
				Symbol:  sigs.Symbol,
				Signals: sigs.Signals[offset:],
			},
		}
	}

	eng, err := engine.New(w.engineCfg)
	if err != nil {
		return nil, err
	}
	return eng.Run(&engine.MarketData{Assets: assets})
}
