package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"backtest-engine/services/engine"
)

// RunRecord is one row of the run registry.
type RunRecord struct {
	ID        string
	CreatedAt time.Time
	Strategy  string
	Symbols   []string

	ConfigHash    string
	DataChecksum  string
	EngineVersion string
	BarCount      int

	TotalTrades int
	NetProfit   decimal.Decimal
	MaxDrawdown float64
}

// RunRegistry records finished runs in SQLite so results on disk can be
// located and compared later.
type RunRegistry struct {
	db *sql.DB
}

const runsSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	created_at_ms  INTEGER NOT NULL,
	strategy       TEXT NOT NULL,
	symbols        TEXT NOT NULL,
	config_hash    TEXT NOT NULL,
	data_checksum  TEXT NOT NULL,
	engine_version TEXT NOT NULL,
	bar_count      INTEGER NOT NULL,
	total_trades   INTEGER NOT NULL,
	net_profit     TEXT NOT NULL,
	max_drawdown   REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs (created_at_ms DESC);
CREATE INDEX IF NOT EXISTS idx_runs_config_hash ON runs (config_hash);
`

// NewRunRegistry opens (or creates) the registry database at dbPath.
func NewRunRegistry(dbPath string) (*RunRegistry, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(runsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs schema: %w", err)
	}
	return &RunRegistry{db: db}, nil
}

// Close closes the underlying database connection.
func (r *RunRegistry) Close() error {
	return r.db.Close()
}

// SaveRun inserts a run. Saving the same ID twice is an error; runs are
// immutable once recorded.
func (r *RunRegistry) SaveRun(ctx context.Context, rec *RunRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, created_at_ms, strategy, symbols,
			config_hash, data_checksum, engine_version, bar_count,
			total_trades, net_profit, max_drawdown
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.CreatedAt.UnixMilli(),
		rec.Strategy,
		strings.Join(rec.Symbols, ","),
		rec.ConfigHash,
		rec.DataChecksum,
		rec.EngineVersion,
		rec.BarCount,
		rec.TotalTrades,
		rec.NetProfit.String(),
		rec.MaxDrawdown,
	)
	return err
}

// GetRun retrieves one run by ID. A missing run returns sql.ErrNoRows.
func (r *RunRegistry) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, created_at_ms, strategy, symbols,
		       config_hash, data_checksum, engine_version, bar_count,
		       total_trades, net_profit, max_drawdown
		FROM runs WHERE id = ?`, id)
	return scanRun(row.Scan)
}

// ListRuns returns the most recent runs, newest first.
func (r *RunRegistry) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at_ms, strategy, symbols,
		       config_hash, data_checksum, engine_version, bar_count,
		       total_trades, net_profit, max_drawdown
		FROM runs ORDER BY created_at_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

// FindByConfigHash returns runs that used the given configuration, newest
// first. Paired with the manifest's data checksum this identifies exact
// reruns.
func (r *RunRegistry) FindByConfigHash(ctx context.Context, hash string) ([]RunRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, created_at_ms, strategy, symbols,
		       config_hash, data_checksum, engine_version, bar_count,
		       total_trades, net_profit, max_drawdown
		FROM runs WHERE config_hash = ? ORDER BY created_at_ms DESC`, hash)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanRun(scan func(...any) error) (*RunRecord, error) {
	var (
		rec       RunRecord
		createdMs int64
		symbols   string
		netProfit string
	)
	if err := scan(
		&rec.ID, &createdMs, &rec.Strategy, &symbols,
		&rec.ConfigHash, &rec.DataChecksum, &rec.EngineVersion, &rec.BarCount,
		&rec.TotalTrades, &netProfit, &rec.MaxDrawdown,
	); err != nil {
		return nil, err
	}
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	if symbols != "" {
		rec.Symbols = strings.Split(symbols, ",")
	}
	np, err := decimal.NewFromString(netProfit)
	if err != nil {
		return nil, fmt.Errorf("net profit for run %s: %w", rec.ID, err)
	}
	rec.NetProfit = np
	return &rec, nil
}

// RecordResult builds and saves the registry row for a finished run.
func (r *RunRegistry) RecordResult(ctx context.Context, runID, strategy string, res *engine.BacktestResult) error {
	return r.SaveRun(ctx, &RunRecord{
		ID:            runID,
		CreatedAt:     time.Now().UTC(),
		Strategy:      strategy,
		Symbols:       res.Manifest.Symbols,
		ConfigHash:    res.Manifest.ConfigHash,
		DataChecksum:  res.Manifest.DataChecksum,
		EngineVersion: res.Manifest.EngineVersion,
		BarCount:      res.Manifest.BarCount,
		TotalTrades:   res.Metrics.TotalTrades,
		NetProfit:     res.Metrics.NetProfit,
		MaxDrawdown:   res.Metrics.MaxDrawdown,
	})
}
