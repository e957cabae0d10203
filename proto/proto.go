// Package proto defines the wire types of the backtest service API. Money
// values travel as decimal strings end to end.
package proto

import "context"

type BacktestRequest struct {
	Symbols   []string `json:"symbols"`
	Interval  string   `json:"interval"`
	StartTime int64    `json:"start_time"`
	EndTime   int64    `json:"end_time"`

	Strategy       string            `json:"strategy"`
	StrategyParams map[string]string `json:"strategy_params"`

	Config EngineConfig `json:"config"`
}

// EngineConfig mirrors the simulation parameters. Optional percentages are
// empty strings when unset.
type EngineConfig struct {
	InitialCapital      string  `json:"initial_capital"`
	FeeRate             string  `json:"fee_rate"`
	SlippageRate        string  `json:"slippage_rate"`
	MaxSlots            int     `json:"max_slots"`
	StopLossPct         string  `json:"stop_loss_pct"`
	TakeProfitPct       string  `json:"take_profit_pct"`
	TrailingStopPct     string  `json:"trailing_stop_pct"`
	MinOrderAmount      string  `json:"min_order_amount"`
	Sizing              string  `json:"sizing"`
	RiskFraction        string  `json:"risk_fraction"`
	WhipsawSuppressBars int     `json:"whipsaw_suppress_bars"`
	PeriodsPerYear      float64 `json:"periods_per_year"`
}

type Trade struct {
	Symbol      string `json:"symbol"`
	EntryTime   int64  `json:"entry_time"`
	ExitTime    int64  `json:"exit_time"`
	EntryPrice  string `json:"entry_price"`
	ExitPrice   string `json:"exit_price"`
	Quantity    string `json:"quantity"`
	RealizedPnl string `json:"realized_pnl"`
	PnlPct      string `json:"pnl_pct"`
	ExitReason  string `json:"exit_reason"`
	Commission  string `json:"commission"`
	Slippage    string `json:"slippage"`
	BarsHeld    int    `json:"bars_held"`
}

type EquityPoint struct {
	Timestamp int64  `json:"timestamp"`
	Equity    string `json:"equity"`
	Drawdown  string `json:"drawdown"`
}

type Metrics struct {
	TotalTrades  int `json:"total_trades"`
	Wins         int `json:"wins"`
	Losses       int `json:"losses"`
	Liquidations int `json:"liquidations"`

	NetProfit       string `json:"net_profit"`
	TotalCommission string `json:"total_commission"`
	TotalSlippage   string `json:"total_slippage"`

	WinRate      float64 `json:"win_rate"`
	ProfitFactor float64 `json:"profit_factor"`
	CAGR         float64 `json:"cagr"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Sharpe       float64 `json:"sharpe"`
	Calmar       float64 `json:"calmar"`
}

type RunManifest struct {
	ConfigHash    string   `json:"config_hash"`
	DataChecksum  string   `json:"data_checksum"`
	EngineVersion string   `json:"engine_version"`
	Symbols       []string `json:"symbols"`
	BarCount      int      `json:"bar_count"`
}

type BacktestResponse struct {
	RunId           string         `json:"run_id"`
	ExecutionTimeMs int64          `json:"execution_time_ms"`
	Trades          []*Trade       `json:"trades"`
	EquityCurve     []*EquityPoint `json:"equity_curve"`
	Metrics         *Metrics       `json:"metrics"`
	Manifest        *RunManifest   `json:"manifest"`
}

type ListStrategiesResponse struct {
	Strategies []string `json:"strategies"`
}

// gRPC server interface stub

type UnimplementedBacktestServiceServer struct{}

func RegisterBacktestServiceServer(_ any, _ BacktestServiceServer) {}

type BacktestServiceServer interface {
	ExecuteBacktest(context.Context, *BacktestRequest) (*BacktestResponse, error)
}
