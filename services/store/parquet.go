package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"backtest-engine/services/engine"
)

// ParquetStore lays out one directory per run under DataDir:
//
//	<DataDir>/runs/<runID>/trades.parquet
//	<DataDir>/runs/<runID>/equity.parquet
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a store rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// tradeRecord is the Parquet schema for closed trades. Money fields travel
// as strings so the decimal values survive the round trip exactly.
type tradeRecord struct {
	Symbol      string `parquet:"symbol"`
	EntryTime   int64  `parquet:"entry_time,timestamp(millisecond)"`
	ExitTime    int64  `parquet:"exit_time,timestamp(millisecond)"`
	EntryPrice  string `parquet:"entry_price"`
	ExitPrice   string `parquet:"exit_price"`
	Quantity    string `parquet:"quantity"`
	RealizedPnl string `parquet:"realized_pnl"`
	PnlPct      string `parquet:"pnl_pct"`
	Reason      string `parquet:"reason"`
	Commission  string `parquet:"commission"`
	Slippage    string `parquet:"slippage"`
	BarsHeld    int64  `parquet:"bars_held"`
}

// equityRecord is the Parquet schema for equity curve points.
type equityRecord struct {
	Timestamp int64  `parquet:"timestamp,timestamp(millisecond)"`
	Equity    string `parquet:"equity"`
	Drawdown  string `parquet:"drawdown"`
}

// WriteTrades persists a run's closed trades.
func (s *ParquetStore) WriteTrades(_ context.Context, runID string, trades []engine.Trade) error {
	records := make([]tradeRecord, len(trades))
	for i := range trades {
		t := &trades[i]
		records[i] = tradeRecord{
			Symbol:      t.Symbol,
			EntryTime:   t.EntryTime,
			ExitTime:    t.ExitTime,
			EntryPrice:  t.EntryPrice.String(),
			ExitPrice:   t.ExitPrice.String(),
			Quantity:    t.Quantity.String(),
			RealizedPnl: t.RealizedPnl.String(),
			PnlPct:      t.PnlPct.String(),
			Reason:      t.Reason.String(),
			Commission:  t.Commission.String(),
			Slippage:    t.Slippage.String(),
			BarsHeld:    int64(t.BarsHeld),
		}
	}
	return writeParquetFile(s.runPath(runID, "trades.parquet"), records)
}

// ReadTrades loads a run's closed trades back.
func (s *ParquetStore) ReadTrades(_ context.Context, runID string) ([]engine.Trade, error) {
	records, err := parquet.ReadFile[tradeRecord](s.runPath(runID, "trades.parquet"))
	if err != nil {
		return nil, err
	}
	trades := make([]engine.Trade, len(records))
	for i, r := range records {
		t := engine.Trade{
			Symbol:    r.Symbol,
			EntryTime: r.EntryTime,
			ExitTime:  r.ExitTime,
			BarsHeld:  int(r.BarsHeld),
		}
		reason, err := parseExitReason(r.Reason)
		if err != nil {
			return nil, fmt.Errorf("trade %d: %w", i, err)
		}
		t.Reason = reason
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&t.EntryPrice, r.EntryPrice},
			{&t.ExitPrice, r.ExitPrice},
			{&t.Quantity, r.Quantity},
			{&t.RealizedPnl, r.RealizedPnl},
			{&t.PnlPct, r.PnlPct},
			{&t.Commission, r.Commission},
			{&t.Slippage, r.Slippage},
		} {
			v, err := decimal.NewFromString(f.src)
			if err != nil {
				return nil, fmt.Errorf("trade %d: %w", i, err)
			}
			*f.dst = v
		}
		trades[i] = t
	}
	return trades, nil
}

// WriteEquityCurve persists a run's equity curve.
func (s *ParquetStore) WriteEquityCurve(_ context.Context, runID string, curve []engine.EquityPoint) error {
	records := make([]equityRecord, len(curve))
	for i := range curve {
		records[i] = equityRecord{
			Timestamp: curve[i].Timestamp,
			Equity:    curve[i].Equity.String(),
			Drawdown:  curve[i].Drawdown.String(),
		}
	}
	return writeParquetFile(s.runPath(runID, "equity.parquet"), records)
}

// ReadEquityCurve loads a run's equity curve back.
func (s *ParquetStore) ReadEquityCurve(_ context.Context, runID string) ([]engine.EquityPoint, error) {
	records, err := parquet.ReadFile[equityRecord](s.runPath(runID, "equity.parquet"))
	if err != nil {
		return nil, err
	}
	curve := make([]engine.EquityPoint, len(records))
	for i, r := range records {
		equity, err := decimal.NewFromString(r.Equity)
		if err != nil {
			return nil, fmt.Errorf("equity point %d: %w", i, err)
		}
		drawdown, err := decimal.NewFromString(r.Drawdown)
		if err != nil {
			return nil, fmt.Errorf("equity point %d: %w", i, err)
		}
		curve[i] = engine.EquityPoint{Timestamp: r.Timestamp, Equity: equity, Drawdown: drawdown}
	}
	return curve, nil
}

func (s *ParquetStore) runPath(runID, name string) string {
	return filepath.Join(s.DataDir, "runs", runID, name)
}

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func parseExitReason(s string) (engine.ExitReason, error) {
	for _, r := range []engine.ExitReason{
		engine.ExitStopLoss, engine.ExitTakeProfit, engine.ExitTrailingStop,
		engine.ExitSignal, engine.ExitWhipsaw, engine.ExitLiquidation,
	} {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown exit reason %q", s)
}
