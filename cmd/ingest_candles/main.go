// Command ingest_candles installs Binance spot monthly klines into the
// ClickHouse bar warehouse: 1m rows over the HTTP batch path, then derived
// 5m and 15m intervals server side. Reruns deduplicate.
package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"backtest-engine/services/clickhouse"
	"backtest-engine/services/config"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	symbols := flag.String("symbols", "BTCUSDT,ETHUSDT", "Comma-separated symbols")
	startYM := flag.String("start", "2020-10", "First month (YYYY-MM)")
	endYM := flag.String("end", "2025-07", "Last month (YYYY-MM)")
	baseURL := flag.String("base-url", "https://data.binance.vision", "Binance data archive base URL")
	onlyDerive := flag.Bool("only-derive", false, "Skip 1m download, only derive 5m/15m")
	batchSize := flag.Int("batch-size", 50000, "Rows per HTTP insert")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err := cfg.Logging.Build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	client, err := clickhouse.NewClient(clickhouse.Options{
		Addr:     cfg.ClickHouse.Addr,
		Database: cfg.ClickHouse.Database,
		Table:    cfg.ClickHouse.Table,
		User:     cfg.ClickHouse.User,
		Password: cfg.ClickHouse.Password,
	}, logger)
	if err != nil {
		logger.Fatal("clickhouse connect", zap.Error(err))
	}
	defer client.Close()

	if err := client.EnsureSchema(ctx); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}

	if !*onlyDerive {
		months, err := ymRange(*startYM, *endYM)
		if err != nil {
			logger.Fatal("bad month range", zap.Error(err))
		}
		ingester := clickhouse.NewBatchIngester(
			cfg.ClickHouse.HTTPURL,
			cfg.ClickHouse.Database,
			cfg.ClickHouse.Table,
			cfg.ClickHouse.User,
			cfg.ClickHouse.Password,
			*batchSize,
		)
		for _, sym := range splitSymbols(*symbols) {
			logger.Info("ingesting 1m months",
				zap.String("symbol", sym),
				zap.String("from", *startYM),
				zap.String("to", *endYM),
			)
			for _, m := range months {
				if err := ingestMonth(ctx, ingester, *baseURL, sym, m); err != nil {
					// Other months and symbols still proceed.
					logger.Warn("month ingest failed",
						zap.String("symbol", sym),
						zap.String("month", m.Format("2006-01")),
						zap.Error(err),
					)
				}
			}
		}
		if err := ingester.Close(ctx); err != nil {
			logger.Fatal("final flush", zap.Error(err))
		}
	}

	if err := client.DeriveInterval(ctx, "1m", "5m", 5); err != nil {
		logger.Fatal("derive 5m", zap.Error(err))
	}
	if err := client.DeriveInterval(ctx, "1m", "15m", 15); err != nil {
		logger.Fatal("derive 15m", zap.Error(err))
	}
	logger.Info("ingestion complete")
}

// ingestMonth downloads one monthly kline archive and streams its rows into
// the batch ingester.
func ingestMonth(ctx context.Context, ingester *clickhouse.BatchIngester, baseURL, symbol string, month time.Time) error {
	zipURL := fmt.Sprintf("%s/data/spot/monthly/klines/%s/1m/%s-1m-%04d-%02d.zip",
		baseURL, symbol, symbol, month.Year(), int(month.Month()))

	data, err := httpGet(ctx, zipURL)
	if err != nil {
		return err
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("zip open: %w", err)
	}
	var csvFile *zip.File
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			csvFile = f
			break
		}
	}
	if csvFile == nil {
		return errors.New("no csv in zip")
	}
	rc, err := csvFile.Open()
	if err != nil {
		return fmt.Errorf("zip entry open: %w", err)
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1

	// Binance kline columns:
	// 0 open time(ms), 1 open, 2 high, 3 low, 4 close, 5 volume, ...
	now := time.Now().UTC()
	version := fmt.Sprintf("%d", now.UnixNano())
	ingestedAt := now.Format("2006-01-02 15:04:05.000")

	rows := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("csv read: %w", err)
		}
		if len(rec) < 6 {
			continue
		}
		bar := clickhouse.RawBar{
			Symbol:     symbol,
			Interval:   "1m",
			OpenTimeMs: strings.TrimSpace(rec[0]),
			Open:       strings.TrimSpace(rec[1]),
			High:       strings.TrimSpace(rec[2]),
			Low:        strings.TrimSpace(rec[3]),
			Close:      strings.TrimSpace(rec[4]),
			Volume:     strings.TrimSpace(rec[5]),
			IngestedAt: ingestedAt,
			Version:    version,
		}
		if err := ingester.Add(ctx, bar); err != nil {
			return err
		}
		rows++
	}
	if rows == 0 {
		return errors.New("archive contained no rows")
	}
	return nil
}

func httpGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func ymRange(startYM, endYM string) ([]time.Time, error) {
	start, err := time.Parse("2006-01", startYM)
	if err != nil {
		return nil, fmt.Errorf("parse start month: %w", err)
	}
	end, err := time.Parse("2006-01", endYM)
	if err != nil {
		return nil, fmt.Errorf("parse end month: %w", err)
	}
	if end.Before(start) {
		return nil, errors.New("end month precedes start month")
	}
	var out []time.Time
	cur := time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC)
	lim := time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(lim) {
		out = append(out, cur)
		cur = cur.AddDate(0, 1, 0)
	}
	return out, nil
}

func splitSymbols(s string) []string {
	var out []string
	for _, sym := range strings.Split(s, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}
