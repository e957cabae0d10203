// Package store persists run output: parquet files for trades and equity
// curves, a SQLite registry for run metadata, and CSV import/export for bar
// data and trade lists.
package store

import (
	"context"

	"backtest-engine/services/engine"
)

// TradeStore persists and recalls the trade list of a run.
type TradeStore interface {
	WriteTrades(ctx context.Context, runID string, trades []engine.Trade) error
	ReadTrades(ctx context.Context, runID string) ([]engine.Trade, error)
}

// EquityStore persists and recalls the equity curve of a run.
type EquityStore interface {
	WriteEquityCurve(ctx context.Context, runID string, curve []engine.EquityPoint) error
	ReadEquityCurve(ctx context.Context, runID string) ([]engine.EquityPoint, error)
}

// Compile-time interface checks.
var _ TradeStore = (*ParquetStore)(nil)
var _ EquityStore = (*ParquetStore)(nil)
