// Package clickhouse loads bar history from the ClickHouse warehouse and
// ingests raw bars into it.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"backtest-engine/services/engine"
)

// Options are the connection parameters for the native protocol client.
type Options struct {
	Addr     string
	Database string
	Table    string
	User     string
	Password string
}

// Client wraps a native-protocol connection to the bar warehouse.
type Client struct {
	conn     clickhouse.Conn
	database string
	table    string
	logger   *zap.Logger
}

// NewClient connects and pings the warehouse.
func NewClient(opts Options, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.User,
			Password: opts.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &Client{
		conn:     conn,
		database: opts.Database,
		table:    opts.Table,
		logger:   logger,
	}, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

// EnsureSchema creates the database and bar table when missing.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if err := c.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", c.database)); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			symbol String,
			interval LowCardinality(String),
			open_time_ms UInt64,
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64,
			ingested_at DateTime64(3),
			version UInt64
		)
		ENGINE = ReplacingMergeTree(version)
		ORDER BY (symbol, interval, open_time_ms)
		SETTINGS index_granularity = 8192
	`, c.database, c.table)
	return c.conn.Exec(ctx, ddl)
}

// DeriveInterval aggregates the stored source interval into a coarser one,
// server side. Buckets align to epoch minutes and the insert deduplicates,
// so reruns are idempotent.
func (c *Client) DeriveInterval(ctx context.Context, source, target string, minutes int) error {
	c.logger.Info("deriving interval",
		zap.String("source", source),
		zap.String("target", target),
	)
	q := fmt.Sprintf(`
        INSERT INTO %s.%s SETTINGS insert_deduplicate=1
        SELECT
            symbol,
            '%s' AS interval,
            toUInt64(toUnixTimestamp(start_ts) * 1000) AS open_time_ms,
            argMin(open, open_time_ms)  AS open,
            max(high)                   AS high,
            min(low)                    AS low,
            argMax(close, open_time_ms) AS close,
            sum(volume)                 AS volume,
            now64(3)                    AS ingested_at,
            toUInt64(toUnixTimestamp64Nano(now64(9))) AS version
        FROM (
            SELECT
                symbol, open_time_ms, open, high, low, close, volume,
                toStartOfInterval(toDateTime(open_time_ms / 1000), INTERVAL %d MINUTE) AS start_ts
            FROM %s.%s
            WHERE interval = '%s'
        )
        GROUP BY symbol, start_ts
    `, c.database, c.table, target, minutes, c.database, c.table, source)
	return c.conn.Exec(ctx, q)
}

// LoadBars fetches one symbol's bars for an interval and time range, ordered
// by open time. Prices come back as strings via toString so decimal parsing
// never goes through float64.
func (c *Client) LoadBars(ctx context.Context, symbol, interval string, startMs, endMs int64) (engine.BarSeries, error) {
	q := fmt.Sprintf(`
SELECT
    open_time_ms,
    toString(open),
    toString(high),
    toString(low),
    toString(close),
    toString(volume)
FROM %s.%s
WHERE symbol = ? AND interval = ? AND open_time_ms >= ? AND open_time_ms < ?
ORDER BY open_time_ms`, c.database, c.table)

	rows, err := c.conn.Query(ctx, q, symbol, interval, uint64(startMs), uint64(endMs))
	if err != nil {
		return engine.BarSeries{}, fmt.Errorf("query bars for %s: %w", symbol, err)
	}
	defer rows.Close()

	series := engine.BarSeries{Symbol: symbol}
	for rows.Next() {
		var (
			ts            uint64
			o, h, l, cl, v string
		)
		if err := rows.Scan(&ts, &o, &h, &l, &cl, &v); err != nil {
			return engine.BarSeries{}, fmt.Errorf("scan bar for %s: %w", symbol, err)
		}
		bar, err := parseBar(int64(ts), o, h, l, cl, v)
		if err != nil {
			return engine.BarSeries{}, fmt.Errorf("bar for %s at %d: %w", symbol, ts, err)
		}
		series.Bars = append(series.Bars, bar)
	}
	if err := rows.Err(); err != nil {
		return engine.BarSeries{}, err
	}

	c.logger.Debug("loaded bars",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("bars", len(series.Bars)),
	)
	return series, nil
}

func parseBar(ts int64, o, h, l, cl, v string) (engine.Bar, error) {
	var bar engine.Bar
	var err error
	bar.Timestamp = ts
	if bar.Open, err = decimal.NewFromString(o); err != nil {
		return bar, fmt.Errorf("open: %w", err)
	}
	if bar.High, err = decimal.NewFromString(h); err != nil {
		return bar, fmt.Errorf("high: %w", err)
	}
	if bar.Low, err = decimal.NewFromString(l); err != nil {
		return bar, fmt.Errorf("low: %w", err)
	}
	if bar.Close, err = decimal.NewFromString(cl); err != nil {
		return bar, fmt.Errorf("close: %w", err)
	}
	if bar.Volume, err = decimal.NewFromString(v); err != nil {
		return bar, fmt.Errorf("volume: %w", err)
	}
	return bar, nil
}

// InsertBars appends bars through a prepared batch. Version stamping lets
// ReplacingMergeTree deduplicate re-ingested ranges.
func (c *Client) InsertBars(ctx context.Context, symbol, interval string, bars []engine.Bar, version uint64) error {
	batch, err := c.conn.PrepareBatch(ctx,
		fmt.Sprintf("INSERT INTO %s.%s SETTINGS insert_deduplicate=1", c.database, c.table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	now := time.Now().UTC()
	for i := range bars {
		b := &bars[i]
		if err := batch.Append(
			symbol, interval,
			uint64(b.Timestamp),
			b.Open.InexactFloat64(),
			b.High.InexactFloat64(),
			b.Low.InexactFloat64(),
			b.Close.InexactFloat64(),
			b.Volume.InexactFloat64(),
			now,
			version,
		); err != nil {
			return fmt.Errorf("append bar %d: %w", i, err)
		}
	}
	return batch.Send()
}
