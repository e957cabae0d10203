package engine

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

// PerformanceMetrics summarises a finished run. Ratio statistics are plain
// float64: they feed comparisons and charts, not the cash ledger. Degenerate
// inputs (zero trades, zero volatility, no losers) produce the documented
// sentinels instead of errors.
type PerformanceMetrics struct {
	TotalTrades int `json:"total_trades"`
	Wins        int `json:"wins"`
	Losses      int `json:"losses"`
	// Liquidations counts end-of-data force-closes included in the totals.
	Liquidations int `json:"liquidations"`

	NetProfit       decimal.Decimal `json:"net_profit"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	TotalSlippage   decimal.Decimal `json:"total_slippage"`

	// WinRate is wins/total in [0,1]; NaN when there are no trades.
	WinRate float64 `json:"win_rate"`
	// ProfitFactor is gross profit / gross loss; +Inf with gains and no
	// losses, NaN with no trades.
	ProfitFactor float64 `json:"profit_factor"`
	// CAGR is the annualised growth rate of the equity curve.
	CAGR float64 `json:"cagr"`
	// MaxDrawdown is the largest peak-to-trough fraction lost, >= 0.
	MaxDrawdown float64 `json:"max_drawdown"`
	// Sharpe is the annualised mean/stdev of per-bar returns; NaN when
	// fewer than two returns or zero volatility.
	Sharpe float64 `json:"sharpe"`
	// Calmar is CAGR / MaxDrawdown; +Inf when drawdown is zero and CAGR
	// positive, NaN when both are zero.
	Calmar float64 `json:"calmar"`
}

// ComputeMetrics derives summary statistics from a finished equity curve and
// trade list. Pure: it never mutates its inputs and has no other state.
func ComputeMetrics(curve []EquityPoint, trades []Trade, periodsPerYear float64) PerformanceMetrics {
	m := PerformanceMetrics{
		TotalTrades: len(trades),
		NetProfit:   decimal.Zero,
	}

	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	m.TotalCommission = decimal.Zero
	m.TotalSlippage = decimal.Zero
	for i := range trades {
		t := &trades[i]
		m.NetProfit = m.NetProfit.Add(t.RealizedPnl)
		m.TotalCommission = m.TotalCommission.Add(t.Commission)
		m.TotalSlippage = m.TotalSlippage.Add(t.Slippage)
		if t.Liquidated() {
			m.Liquidations++
		}
		if t.RealizedPnl.IsPositive() {
			m.Wins++
			grossProfit = grossProfit.Add(t.RealizedPnl)
		} else {
			m.Losses++
			grossLoss = grossLoss.Add(t.RealizedPnl.Abs())
		}
	}

	m.WinRate = ratio(float64(m.Wins), float64(m.TotalTrades))
	if m.TotalTrades == 0 {
		m.ProfitFactor = math.NaN()
	} else {
		m.ProfitFactor = ratio(grossProfit.InexactFloat64(), grossLoss.InexactFloat64())
	}

	m.MaxDrawdown = maxDrawdown(curve)
	m.CAGR = cagr(curve)
	m.Sharpe = sharpe(curve, periodsPerYear)
	m.Calmar = ratio(m.CAGR, m.MaxDrawdown)
	return m
}

// ratio guards the zero-denominator cases: 0/0 is NaN, x/0 is +-Inf.
func ratio(num, den float64) float64 {
	if den == 0 {
		if num == 0 {
			return math.NaN()
		}
		return math.Inf(int(math.Copysign(1, num)))
	}
	return num / den
}

// maxDrawdown is the largest peak-to-trough fractional decline.
func maxDrawdown(curve []EquityPoint) float64 {
	worst := 0.0
	peak := math.Inf(-1)
	for i := range curve {
		eq := curve[i].Equity.InexactFloat64()
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			if dd := (peak - eq) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}

// cagr annualises first-to-last growth over elapsed calendar time.
func cagr(curve []EquityPoint) float64 {
	if len(curve) < 2 {
		return 0
	}
	first := curve[0].Equity.InexactFloat64()
	last := curve[len(curve)-1].Equity.InexactFloat64()
	elapsedMs := float64(curve[len(curve)-1].Timestamp - curve[0].Timestamp)
	if first <= 0 || elapsedMs <= 0 {
		return 0
	}
	years := elapsedMs / msPerYear
	return math.Pow(last/first, 1/years) - 1
}

// sharpe is the annualised mean/stdev of per-period simple returns.
func sharpe(curve []EquityPoint, periodsPerYear float64) float64 {
	returns := periodReturns(curve)
	if len(returns) < 2 {
		return math.NaN()
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return math.NaN()
	}
	return mean / std * math.Sqrt(periodsPerYear)
}

func periodReturns(curve []EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity.InexactFloat64()
		if prev == 0 {
			continue
		}
		returns = append(returns, curve[i].Equity.InexactFloat64()/prev-1)
	}
	return returns
}

// inferPeriodsPerYear derives the annualisation basis from the median bar
// spacing, so daily and five-minute data both get sensible Sharpe scaling.
func inferPeriodsPerYear(curve []EquityPoint) float64 {
	if len(curve) < 2 {
		return 252 // daily default
	}
	gaps := make([]int64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		gaps = append(gaps, curve[i].Timestamp-curve[i-1].Timestamp)
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	median := float64(gaps[len(gaps)/2])
	if median <= 0 {
		return 252
	}
	return msPerYear / median
}
