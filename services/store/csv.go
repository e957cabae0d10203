package store

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"backtest-engine/services/engine"
)

// LoadBarsCSV reads a timestamp,open,high,low,close,volume file into a bar
// series. Exports from spreadsheet tools arrive UTF-16 with a BOM often
// enough that the loader sniffs for one and transcodes transparently. Rows
// that do not parse are skipped; bars come back sorted by timestamp.
func LoadBarsCSV(path, symbol string) (engine.BarSeries, error) {
	f, err := os.Open(path)
	if err != nil {
		return engine.BarSeries{}, err
	}
	defer f.Close()

	reader, err := decodedReader(f)
	if err != nil {
		return engine.BarSeries{}, err
	}

	r := csv.NewReader(reader)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	series := engine.BarSeries{Symbol: symbol}
	row := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return engine.BarSeries{}, fmt.Errorf("csv read row %d: %w", row, err)
		}
		row++
		if len(rec) < 6 {
			continue
		}
		first := strings.TrimSpace(strings.TrimPrefix(rec[0], "\uFEFF"))
		if strings.EqualFold(first, "timestamp") || strings.EqualFold(first, "timestamp_ms") {
			continue
		}

		ts, err := strconv.ParseInt(first, 10, 64)
		if err != nil {
			continue
		}
		open, err1 := decimal.NewFromString(strings.TrimSpace(rec[1]))
		high, err2 := decimal.NewFromString(strings.TrimSpace(rec[2]))
		low, err3 := decimal.NewFromString(strings.TrimSpace(rec[3]))
		closep, err4 := decimal.NewFromString(strings.TrimSpace(rec[4]))
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		vol, err5 := decimal.NewFromString(strings.TrimSpace(rec[5]))
		if err5 != nil {
			vol = decimal.Zero
		}
		series.Bars = append(series.Bars, engine.Bar{
			Timestamp: ts,
			Open:      open, High: high, Low: low, Close: closep,
			Volume: vol,
		})
	}

	if len(series.Bars) == 0 {
		return engine.BarSeries{}, fmt.Errorf("%s: no parsable bars", path)
	}
	sort.Slice(series.Bars, func(i, j int) bool {
		return series.Bars[i].Timestamp < series.Bars[j].Timestamp
	})
	return series, nil
}

// decodedReader sniffs for a UTF-16 BOM and transcodes when present.
func decodedReader(f *os.File) (io.Reader, error) {
	br := bufio.NewReader(f)
	head, _ := br.Peek(2)
	if len(head) >= 2 && ((head[0] == 0xFF && head[1] == 0xFE) || (head[0] == 0xFE && head[1] == 0xFF)) {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return transform.NewReader(f,
			unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()), nil
	}
	return br, nil
}

// ExportTradesCSV writes the closed-trade list in the flat layout downstream
// spreadsheets expect, one row per trade.
func ExportTradesCSV(path string, trades []engine.Trade) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"symbol", "entry_time_ms", "exit_time_ms", "entry_price", "exit_price",
		"qty", "pnl_usd", "pnl_pct", "exit_reason", "fees_usd", "slippage_usd", "bars_held",
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for i := range trades {
		t := &trades[i]
		rec := []string{
			t.Symbol,
			strconv.FormatInt(t.EntryTime, 10),
			strconv.FormatInt(t.ExitTime, 10),
			t.EntryPrice.String(),
			t.ExitPrice.String(),
			t.Quantity.String(),
			t.RealizedPnl.String(),
			t.PnlPct.String(),
			t.Reason.String(),
			t.Commission.String(),
			t.Slippage.String(),
			strconv.Itoa(t.BarsHeld),
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}
