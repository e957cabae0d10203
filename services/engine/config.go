package engine

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// SizingMode selects how much notional a new entry commits.
type SizingMode int

const (
	// SizingEqualWeight splits available cash evenly over remaining slots.
	SizingEqualWeight SizingMode = iota
	// SizingFixedFractional commits a fixed fraction of current cash.
	SizingFixedFractional
	// SizingRiskPerTrade sizes so the entry-to-stop distance risks a fixed
	// fraction of cash. Falls back to equal weight when no stop is attached.
	SizingRiskPerTrade
)

func (m SizingMode) String() string {
	switch m {
	case SizingEqualWeight:
		return "equal_weight"
	case SizingFixedFractional:
		return "fixed_fractional"
	case SizingRiskPerTrade:
		return "risk_per_trade"
	default:
		return "unknown"
	}
}

// Config holds the immutable parameters of one simulation run.
type Config struct {
	InitialCapital decimal.Decimal `json:"initial_capital"`
	FeeRate        decimal.Decimal `json:"fee_rate"`
	SlippageRate   decimal.Decimal `json:"slippage_rate"`
	MaxSlots       int             `json:"max_slots"`

	// Optional exit levels as fractions of entry price (0 < pct < 1).
	// Per-bar signal levels, when present, take precedence.
	StopLossPct     decimal.NullDecimal `json:"stop_loss_pct"`
	TakeProfitPct   decimal.NullDecimal `json:"take_profit_pct"`
	TrailingStopPct decimal.NullDecimal `json:"trailing_stop_pct"`

	// MinOrderAmount rejects uneconomical micro-entries.
	MinOrderAmount decimal.Decimal `json:"min_order_amount"`

	Sizing SizingMode `json:"sizing"`
	// RiskFraction is the cash fraction used by SizingFixedFractional and
	// SizingRiskPerTrade. Zero means the 0.1 default.
	RiskFraction decimal.Decimal `json:"risk_fraction"`

	// WhipsawSuppressBars extends the same-bar re-entry suppression after a
	// whipsaw exit by this many additional bars. Zero suppresses re-entry
	// for the remainder of the triggering bar only.
	WhipsawSuppressBars int `json:"whipsaw_suppress_bars"`

	// PeriodsPerYear is the annualisation basis for Sharpe and CAGR.
	// Zero means "infer from the median bar spacing of the input".
	PeriodsPerYear float64 `json:"periods_per_year"`
}

var (
	one       = decimal.NewFromInt(1)
	hundred   = decimal.NewFromInt(100)
	defaultRF = decimal.RequireFromString("0.1")
)

const msPerYear = 365.25 * 24 * 3600 * 1000

// Validate checks every parameter once, before any simulation work.
func (c *Config) Validate() error {
	if !c.InitialCapital.IsPositive() {
		return configErrf("initial capital must be > 0, got %s", c.InitialCapital)
	}
	if c.FeeRate.IsNegative() {
		return configErrf("fee rate must be >= 0, got %s", c.FeeRate)
	}
	if c.FeeRate.GreaterThanOrEqual(one) {
		return configErrf("fee rate must be < 1, got %s", c.FeeRate)
	}
	if c.SlippageRate.IsNegative() {
		return configErrf("slippage rate must be >= 0, got %s", c.SlippageRate)
	}
	if c.MaxSlots < 1 {
		return configErrf("max slots must be >= 1, got %d", c.MaxSlots)
	}
	if c.MinOrderAmount.IsNegative() {
		return configErrf("minimum order amount must be >= 0, got %s", c.MinOrderAmount)
	}
	for _, p := range []struct {
		name string
		val  decimal.NullDecimal
	}{
		{"stop loss pct", c.StopLossPct},
		{"take profit pct", c.TakeProfitPct},
		{"trailing stop pct", c.TrailingStopPct},
	} {
		if p.val.Valid && (!p.val.Decimal.IsPositive() || p.val.Decimal.GreaterThanOrEqual(one)) {
			return configErrf("%s must satisfy 0 < pct < 1, got %s", p.name, p.val.Decimal)
		}
	}
	switch c.Sizing {
	case SizingEqualWeight, SizingFixedFractional, SizingRiskPerTrade:
	default:
		return configErrf("unknown sizing mode %d", c.Sizing)
	}
	if c.RiskFraction.IsNegative() || c.RiskFraction.GreaterThan(one) {
		return configErrf("risk fraction must be in [0, 1], got %s", c.RiskFraction)
	}
	if c.WhipsawSuppressBars < 0 {
		return configErrf("whipsaw suppress bars must be >= 0, got %d", c.WhipsawSuppressBars)
	}
	if c.PeriodsPerYear < 0 {
		return configErrf("periods per year must be >= 0, got %v", c.PeriodsPerYear)
	}
	return nil
}

func (c *Config) riskFraction() decimal.Decimal {
	if c.RiskFraction.IsZero() {
		return defaultRF
	}
	return c.RiskFraction
}

// Hash returns the sha256 of the JSON-encoded config, recorded in the run
// manifest so a result can be traced back to exact parameters.
func (c *Config) Hash() string {
	b, _ := json.Marshal(c)
	return fmt.Sprintf("%x", sha256.Sum256(b))
}
