package validation

import (
	"fmt"
	"math/rand"
	"sort"

	"backtest-engine/services/engine"
)

// MonteCarloConfig controls block-bootstrap resampling of a finished run's
// trade sequence.
type MonteCarloConfig struct {
	Iterations int `json:"iterations" yaml:"iterations"`
	// BlockSize keeps that many consecutive trades together per draw,
	// preserving short-range dependence between trades.
	BlockSize int   `json:"block_size" yaml:"block_size"`
	Seed      int64 `json:"seed" yaml:"seed"`
}

// Validate rejects configurations that cannot produce a distribution.
func (c *MonteCarloConfig) Validate() error {
	if c.Iterations < 1 {
		return fmt.Errorf("monte carlo: iterations must be >= 1, got %d", c.Iterations)
	}
	if c.BlockSize < 1 {
		return fmt.Errorf("monte carlo: block_size must be >= 1, got %d", c.BlockSize)
	}
	return nil
}

// Distribution summarises a sample with nearest-rank percentiles.
type Distribution struct {
	Mean float64 `json:"mean"`
	P5   float64 `json:"p5"`
	P25  float64 `json:"p25"`
	P50  float64 `json:"p50"`
	P75  float64 `json:"p75"`
	P95  float64 `json:"p95"`
}

// MonteCarloReport is the resampled outcome distribution of one run.
type MonteCarloReport struct {
	Iterations int

	// FinalEquity is the distribution of end-of-path equity.
	FinalEquity Distribution
	// MaxDrawdown is the distribution of per-path peak-to-trough fractions.
	MaxDrawdown Distribution
	// ProbLoss is the fraction of paths ending below initial capital.
	ProbLoss float64
}

// RunMonteCarlo reorders the run's realized trade PnLs by block bootstrap and
// replays each resampled sequence additively from initial capital. The same
// seed always produces the same report.
func RunMonteCarlo(res *engine.BacktestResult, cfg MonteCarloConfig) (*MonteCarloReport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(res.Trades) == 0 {
		return nil, fmt.Errorf("monte carlo: run has no trades to resample")
	}

	pnls := make([]float64, len(res.Trades))
	for i := range res.Trades {
		pnls[i] = res.Trades[i].RealizedPnl.InexactFloat64()
	}
	initial := res.Config.InitialCapital.InexactFloat64()

	r := rand.New(rand.NewSource(cfg.Seed))
	finals := make([]float64, cfg.Iterations)
	drawdowns := make([]float64, cfg.Iterations)
	losses := 0
	for it := 0; it < cfg.Iterations; it++ {
		equity := initial
		peak := initial
		maxDD := 0.0
		for drawn := 0; drawn < len(pnls); {
			start := r.Intn(len(pnls))
			for b := 0; b < cfg.BlockSize && drawn < len(pnls); b++ {
				equity += pnls[(start+b)%len(pnls)]
				if equity > peak {
					peak = equity
				}
				if peak > 0 {
					if dd := (peak - equity) / peak; dd > maxDD {
						maxDD = dd
					}
				}
				drawn++
			}
		}
		finals[it] = equity
		drawdowns[it] = maxDD
		if equity < initial {
			losses++
		}
	}

	return &MonteCarloReport{
		Iterations:  cfg.Iterations,
		FinalEquity: summarize(finals),
		MaxDrawdown: summarize(drawdowns),
		ProbLoss:    float64(losses) / float64(cfg.Iterations),
	}, nil
}

func summarize(sample []float64) Distribution {
	sorted := make([]float64, len(sample))
	copy(sorted, sample)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return Distribution{
		Mean: sum / float64(len(sorted)),
		P5:   percentile(sorted, 0.05),
		P25:  percentile(sorted, 0.25),
		P50:  percentile(sorted, 0.50),
		P75:  percentile(sorted, 0.75),
		P95:  percentile(sorted, 0.95),
	}
}

// percentile returns the nearest-rank percentile of a sorted sample.
func percentile(sorted []float64, p float64) float64 {
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
