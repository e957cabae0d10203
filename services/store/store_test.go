package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"backtest-engine/services/engine"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleTrades() []engine.Trade {
	return []engine.Trade{
		{
			Symbol:      "BTCUSDT",
			EntryTime:   1600000000000,
			ExitTime:    1600003600000,
			EntryPrice:  d("10000.5"),
			ExitPrice:   d("10260.51"),
			Quantity:    d("0.5"),
			RealizedPnl: d("129.9"),
			PnlPct:      d("2.6"),
			Reason:      engine.ExitTakeProfit,
			Commission:  d("0.105"),
			Slippage:    d("0.02"),
			BarsHeld:    12,
		},
		{
			Symbol:      "ETHUSDT",
			EntryTime:   1600000300000,
			ExitTime:    1600001200000,
			EntryPrice:  d("340"),
			ExitPrice:   d("336.6"),
			Quantity:    d("10"),
			RealizedPnl: d("-34.4"),
			PnlPct:      d("-1.01"),
			Reason:      engine.ExitStopLoss,
			Commission:  d("0.68"),
			Slippage:    d("0.1"),
			BarsHeld:    3,
		},
	}
}

func TestParquetTradesRoundTrip(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	ctx := context.Background()
	trades := sampleTrades()

	if err := s.WriteTrades(ctx, "run-1", trades); err != nil {
		t.Fatalf("WriteTrades: %v", err)
	}
	got, err := s.ReadTrades(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadTrades: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d trades, want 2", len(got))
	}
	for i := range got {
		want := trades[i]
		if got[i].Symbol != want.Symbol || got[i].Reason != want.Reason || got[i].BarsHeld != want.BarsHeld {
			t.Fatalf("trade %d = %+v, want %+v", i, got[i], want)
		}
		if !got[i].RealizedPnl.Equal(want.RealizedPnl) || !got[i].EntryPrice.Equal(want.EntryPrice) {
			t.Fatalf("trade %d money fields changed: %+v", i, got[i])
		}
	}
}

func TestParquetEquityRoundTrip(t *testing.T) {
	s := NewParquetStore(t.TempDir())
	ctx := context.Background()
	curve := []engine.EquityPoint{
		{Timestamp: 1, Equity: d("10000"), Drawdown: d("0")},
		{Timestamp: 2, Equity: d("9500.25"), Drawdown: d("0.049975")},
	}

	if err := s.WriteEquityCurve(ctx, "run-1", curve); err != nil {
		t.Fatalf("WriteEquityCurve: %v", err)
	}
	got, err := s.ReadEquityCurve(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadEquityCurve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d points, want 2", len(got))
	}
	if !got[1].Equity.Equal(curve[1].Equity) || !got[1].Drawdown.Equal(curve[1].Drawdown) {
		t.Fatalf("point 1 = %+v, want %+v", got[1], curve[1])
	}
}

func TestRunRegistrySaveAndGet(t *testing.T) {
	reg, err := NewRunRegistry(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewRunRegistry: %v", err)
	}
	defer reg.Close()
	ctx := context.Background()

	rec := &RunRecord{
		ID:            "run-abc",
		CreatedAt:     time.UnixMilli(1600000000000).UTC(),
		Strategy:      "donchian_breakout",
		Symbols:       []string{"BTCUSDT", "ETHUSDT"},
		ConfigHash:    "cfg-hash",
		DataChecksum:  "data-hash",
		EngineVersion: "1.0.0",
		BarCount:      5000,
		TotalTrades:   42,
		NetProfit:     d("1234.56"),
		MaxDrawdown:   0.18,
	}
	if err := reg.SaveRun(ctx, rec); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	got, err := reg.GetRun(ctx, "run-abc")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Strategy != "donchian_breakout" || got.BarCount != 5000 || got.TotalTrades != 42 {
		t.Fatalf("GetRun = %+v", got)
	}
	if len(got.Symbols) != 2 || got.Symbols[0] != "BTCUSDT" {
		t.Fatalf("symbols = %v", got.Symbols)
	}
	if !got.NetProfit.Equal(d("1234.56")) {
		t.Fatalf("net profit = %s", got.NetProfit)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("created at = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}

	// Runs are immutable: same ID again must fail.
	if err := reg.SaveRun(ctx, rec); err == nil {
		t.Fatal("expected error saving duplicate run ID")
	}
}

func TestRunRegistryListNewestFirst(t *testing.T) {
	reg, err := NewRunRegistry(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewRunRegistry: %v", err)
	}
	defer reg.Close()
	ctx := context.Background()

	for i, id := range []string{"old", "mid", "new"} {
		err := reg.SaveRun(ctx, &RunRecord{
			ID:        id,
			CreatedAt: time.UnixMilli(int64(1600000000000 + i*1000)),
			NetProfit: decimal.Zero,
		})
		if err != nil {
			t.Fatalf("SaveRun(%s): %v", id, err)
		}
	}

	runs, err := reg.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Fatalf("ListRuns = %+v", runs)
	}

	if _, err := reg.GetRun(ctx, "absent"); err != sql.ErrNoRows {
		t.Fatalf("GetRun(absent) err = %v, want sql.ErrNoRows", err)
	}
}

func TestRunRegistryFindByConfigHash(t *testing.T) {
	reg, err := NewRunRegistry(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewRunRegistry: %v", err)
	}
	defer reg.Close()
	ctx := context.Background()

	for _, r := range []RunRecord{
		{ID: "a", ConfigHash: "h1", CreatedAt: time.UnixMilli(1), NetProfit: decimal.Zero},
		{ID: "b", ConfigHash: "h2", CreatedAt: time.UnixMilli(2), NetProfit: decimal.Zero},
		{ID: "c", ConfigHash: "h1", CreatedAt: time.UnixMilli(3), NetProfit: decimal.Zero},
	} {
		rec := r
		if err := reg.SaveRun(ctx, &rec); err != nil {
			t.Fatalf("SaveRun(%s): %v", r.ID, err)
		}
	}

	runs, err := reg.FindByConfigHash(ctx, "h1")
	if err != nil {
		t.Fatalf("FindByConfigHash: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "a" {
		t.Fatalf("FindByConfigHash = %+v", runs)
	}
}

func TestLoadBarsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.csv")
	content := "timestamp,open,high,low,close,volume\n" +
		"1600000300000,101,102,100,101.5,9\n" +
		"1600000000000,100,101,99,100.5,10\n" +
		"garbage,x,y,z,w,v\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	series, err := LoadBarsCSV(path, "BTCUSDT")
	if err != nil {
		t.Fatalf("LoadBarsCSV: %v", err)
	}
	if series.Symbol != "BTCUSDT" {
		t.Fatalf("symbol = %q", series.Symbol)
	}
	if len(series.Bars) != 2 {
		t.Fatalf("loaded %d bars, want 2 (header and garbage skipped)", len(series.Bars))
	}
	// Out-of-order rows come back sorted.
	if series.Bars[0].Timestamp != 1600000000000 || series.Bars[1].Timestamp != 1600000300000 {
		t.Fatalf("bars not sorted: %d, %d", series.Bars[0].Timestamp, series.Bars[1].Timestamp)
	}
	if !series.Bars[0].Close.Equal(d("100.5")) {
		t.Fatalf("close = %s", series.Bars[0].Close)
	}
}

func TestLoadBarsCSVUTF16(t *testing.T) {
	text := "timestamp,open,high,low,close,volume\n1600000000000,100,101,99,100.5,10\n"
	buf := []byte{0xFF, 0xFE} // UTF-16LE BOM
	for _, r := range text {
		buf = append(buf, byte(r), 0x00)
	}
	path := filepath.Join(t.TempDir(), "bars_utf16.csv")
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	series, err := LoadBarsCSV(path, "BTCUSDT")
	if err != nil {
		t.Fatalf("LoadBarsCSV: %v", err)
	}
	if len(series.Bars) != 1 || series.Bars[0].Timestamp != 1600000000000 {
		t.Fatalf("decoded bars = %+v", series.Bars)
	}
}

func TestLoadBarsCSVUTF8BOM(t *testing.T) {
	content := "\ufeff1600000000000,100,101,99,100.5,10\n"
	path := filepath.Join(t.TempDir(), "bars_bom.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	series, err := LoadBarsCSV(path, "BTCUSDT")
	if err != nil {
		t.Fatalf("LoadBarsCSV: %v", err)
	}
	if len(series.Bars) != 1 || series.Bars[0].Timestamp != 1600000000000 {
		t.Fatalf("decoded bars = %+v", series.Bars)
	}
}

func TestLoadBarsCSVEmptyFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(path, []byte("timestamp,open,high,low,close,volume\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadBarsCSV(path, "X"); err == nil {
		t.Fatal("expected error for file with no bars")
	}
}

func TestExportTradesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	if err := ExportTradesCSV(path, sampleTrades()); err != nil {
		t.Fatalf("ExportTradesCSV: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	content := string(data)
	for _, want := range []string{
		"symbol,entry_time_ms", "BTCUSDT", "take_profit", "ETHUSDT", "stop_loss", "-34.4",
	} {
		if !strings.Contains(content, want) {
			t.Fatalf("export missing %q:\n%s", want, content)
		}
	}
}
