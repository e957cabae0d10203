// Package config loads the service configuration from YAML with environment
// variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the backtest service.
type Config struct {
	Storage    Storage    `yaml:"storage"`
	Server     Server     `yaml:"server"`
	ClickHouse ClickHouse `yaml:"clickhouse"`
	Logging    Logging    `yaml:"logging"`
	Engine     Engine     `yaml:"engine"`
}

// Storage holds paths for result persistence.
type Storage struct {
	// DataDir is the root for parquet exports.
	DataDir string `yaml:"data_dir"`
	// SQLitePath locates the run registry database.
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// ClickHouse holds connection parameters for the bar warehouse.
type ClickHouse struct {
	Addr     string `yaml:"addr"`
	HTTPURL  string `yaml:"http_url"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Engine bounds simulation work per request.
type Engine struct {
	// MaxWorkers caps concurrent simulation runs; zero means NumCPU.
	MaxWorkers int `yaml:"max_workers"`
	// MaxBarsPerRequest rejects oversized jobs before loading data.
	MaxBarsPerRequest int `yaml:"max_bars_per_request"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "./data",
			SQLitePath: "./data/runs.db",
		},
		Server: Server{
			Host:     "0.0.0.0",
			Port:     8080,
			GRPCPort: 9090,
		},
		ClickHouse: ClickHouse{
			Addr:     "localhost:9000",
			HTTPURL:  "http://localhost:8123",
			Database: "backtest",
			Table:    "bars",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Engine: Engine{
			MaxBarsPerRequest: 10_000_000,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path keeps the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("CLICKHOUSE_ADDR"); v != "" {
		cfg.ClickHouse.Addr = v
	}
	if v := os.Getenv("CLICKHOUSE_URL"); v != "" {
		cfg.ClickHouse.HTTPURL = v
	}
	if v := os.Getenv("CLICKHOUSE_DB"); v != "" {
		cfg.ClickHouse.Database = v
	}
	if v := os.Getenv("CLICKHOUSE_USER"); v != "" {
		cfg.ClickHouse.User = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		cfg.ClickHouse.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Build constructs the application logger from the logging section.
func (l *Logging) Build() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if l.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	if l.Level != "" {
		level, err := zap.ParseAtomicLevel(l.Level)
		if err != nil {
			return nil, fmt.Errorf("log level %q: %w", l.Level, err)
		}
		zc.Level = level
	}
	return zc.Build()
}
