package strategies

import (
	"math"

	"github.com/shopspring/decimal"

	"backtest-engine/services/engine"
)

// closePrices extracts closes as float64 for indicator math. Money stays in
// decimal; indicators are comparisons, so float precision is enough.
func closePrices(bars []engine.Bar) []float64 {
	out := make([]float64, len(bars))
	for i := range bars {
		out[i], _ = bars[i].Close.Float64()
	}
	return out
}

// ema computes an exponential moving average seeded with the SMA of the
// first period values. Indices before period-1 are zero.
func ema(values []float64, period int) []float64 {
	result := make([]float64, len(values))
	if period < 1 || len(values) < period {
		return result
	}

	var sma float64
	for i := 0; i < period; i++ {
		sma += values[i]
	}
	sma /= float64(period)
	result[period-1] = sma

	alpha := 2.0 / float64(period+1)
	oneMinusAlpha := 1.0 - alpha
	for i := period; i < len(values); i++ {
		result[i] = values[i]*alpha + result[i-1]*oneMinusAlpha
	}
	return result
}

// donchian computes rolling channel extremes over the trailing period bars:
// upper is the highest high, lower the lowest low, basis their midpoint.
// Early indices use however many bars exist.
func donchian(bars []engine.Bar, period int) (upper, lower, basis []float64) {
	n := len(bars)
	upper = make([]float64, n)
	lower = make([]float64, n)
	basis = make([]float64, n)
	for i := 0; i < n; i++ {
		start := i - period + 1
		if start < 0 {
			start = 0
		}
		hhv := -math.MaxFloat64
		llv := math.MaxFloat64
		for j := start; j <= i; j++ {
			h, _ := bars[j].High.Float64()
			l, _ := bars[j].Low.Float64()
			if h > hhv {
				hhv = h
			}
			if l < llv {
				llv = l
			}
		}
		upper[i] = hhv
		lower[i] = llv
		basis[i] = (hhv + llv) / 2.0
	}
	return upper, lower, basis
}

// highestHigh returns the exact decimal high of the trailing period bars
// ending at i.
func highestHigh(bars []engine.Bar, i, period int) decimal.Decimal {
	start := i - period + 1
	if start < 0 {
		start = 0
	}
	hhv := bars[start].High
	for j := start + 1; j <= i; j++ {
		if bars[j].High.GreaterThan(hhv) {
			hhv = bars[j].High
		}
	}
	return hhv
}

// lowestLow returns the exact decimal low of the trailing period bars ending
// at i.
func lowestLow(bars []engine.Bar, i, period int) decimal.Decimal {
	start := i - period + 1
	if start < 0 {
		start = 0
	}
	llv := bars[start].Low
	for j := start + 1; j <= i; j++ {
		if bars[j].Low.LessThan(llv) {
			llv = bars[j].Low
		}
	}
	return llv
}

// atr computes Wilder's average true range: seeded with the SMA of the first
// period true ranges, then RMA-smoothed. Indices before period are zero.
func atr(bars []engine.Bar, period int) []float64 {
	result := make([]float64, len(bars))
	if period < 1 || len(bars) < period+1 {
		return result
	}

	tr := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		high, _ := bars[i].High.Float64()
		low, _ := bars[i].Low.Float64()
		prevClose, _ := bars[i-1].Close.Float64()
		tr[i] = math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
	}

	var seed float64
	for i := 1; i <= period; i++ {
		seed += tr[i]
	}
	seed /= float64(period)
	result[period] = seed

	for i := period + 1; i < len(bars); i++ {
		result[i] = (result[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return result
}
