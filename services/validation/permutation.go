package validation

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"backtest-engine/services/engine"
)

// PermutationConfig controls the signal permutation test: the real bars are
// kept, the signals are shuffled in time, and the strategy's edge is judged
// against the shuffled distribution.
type PermutationConfig struct {
	Iterations int   `json:"iterations" yaml:"iterations"`
	Seed       int64 `json:"seed" yaml:"seed"`
}

// Validate rejects configurations that cannot produce a p-value.
func (c *PermutationConfig) Validate() error {
	if c.Iterations < 1 {
		return fmt.Errorf("permutation: iterations must be >= 1, got %d", c.Iterations)
	}
	return nil
}

// PermutationReport compares the real run to the shuffled-signal runs.
type PermutationReport struct {
	// ActualNetProfit is the net profit of the unshuffled run.
	ActualNetProfit decimal.Decimal
	Iterations      int
	// BetterOrEqual counts shuffled runs whose net profit matched or beat
	// the real run.
	BetterOrEqual int
	// PValue is the add-one estimate (BetterOrEqual+1)/(Iterations+1). A
	// small value means shuffling away the signal timing destroys the
	// profit, so the edge is unlikely to be luck.
	PValue float64
	// NetProfits holds the shuffled distribution, one entry per iteration.
	NetProfits []float64
}

// PermutationTest runs the same engine configuration over many
// signal-shuffled copies of the data.
type PermutationTest struct {
	cfg       PermutationConfig
	engineCfg engine.Config
	opts      options
}

// NewPermutationTest validates both configurations up front.
func NewPermutationTest(engineCfg engine.Config, cfg PermutationConfig, opts ...Option) (*PermutationTest, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := engineCfg.Validate(); err != nil {
		return nil, err
	}
	return &PermutationTest{cfg: cfg, engineCfg: engineCfg, opts: newOptions(opts)}, nil
}

// Run executes the real run, then Iterations shuffled runs in parallel. Each
// iteration derives its own seed from the configured one, so results are
// deterministic regardless of worker scheduling.
func (p *PermutationTest) Run(ctx context.Context, data *engine.MarketData) (*PermutationReport, error) {
	eng, err := engine.New(p.engineCfg)
	if err != nil {
		return nil, err
	}
	actual, err := eng.Run(data)
	if err != nil {
		return nil, fmt.Errorf("permutation: baseline run: %w", err)
	}

	p.opts.logger.Info("starting permutation test",
		zap.Int("iterations", p.cfg.Iterations),
		zap.Int("workers", p.opts.workers),
		zap.String("actual_net_profit", actual.Metrics.NetProfit.String()),
	)

	report := &PermutationReport{
		ActualNetProfit: actual.Metrics.NetProfit,
		Iterations:      p.cfg.Iterations,
		NetProfits:      make([]float64, p.cfg.Iterations),
	}
	actualNP := actual.Metrics.NetProfit.InexactFloat64()

	err = runParallel(ctx, p.opts.workers, p.cfg.Iterations, func(i int) error {
		shuffled := shuffleSignals(data, p.cfg.Seed+int64(i))
		res, err := eng.Run(shuffled)
		if err != nil {
			return fmt.Errorf("permutation: iteration %d: %w", i, err)
		}
		report.NetProfits[i] = res.Metrics.NetProfit.InexactFloat64()
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, np := range report.NetProfits {
		if np >= actualNP {
			report.BetterOrEqual++
		}
	}
	report.PValue = float64(report.BetterOrEqual+1) / float64(report.Iterations+1)
	return report, nil
}

// shuffleSignals deep-copies data with each asset's signal sequence permuted
// in time. Bars are shared, signals are copied.
func shuffleSignals(data *engine.MarketData, seed int64) *engine.MarketData {
	r := rand.New(rand.NewSource(seed))
	assets := make([]engine.AssetData, len(data.Assets))
	for i := range data.Assets {
		src := &data.Assets[i]
		sigs := make([]engine.Signal, len(src.Signals.Signals))
		copy(sigs, src.Signals.Signals)
		r.Shuffle(len(sigs), func(a, b int) {
			sigs[a], sigs[b] = sigs[b], sigs[a]
		})
		assets[i] = engine.AssetData{
			Bars: src.Bars,
			Signals: engine.SignalSeries{
				Symbol:  src.Signals.Symbol,
				Signals: sigs,
			},
		}
	}
	return &engine.MarketData{Assets: assets}
}
