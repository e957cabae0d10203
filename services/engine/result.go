package engine

import (
	"crypto/sha256"
	"fmt"
)

// RunManifest ties a result to the exact inputs that produced it. All
// fields are derived deterministically from config and data, so two runs of
// the same inputs carry identical manifests.
type RunManifest struct {
	ConfigHash    string   `json:"config_hash"`
	DataChecksum  string   `json:"data_checksum"`
	EngineVersion string   `json:"engine_version"`
	Symbols       []string `json:"symbols"`
	BarCount      int      `json:"bar_count"`
}

// BacktestResult is the complete output of one run.
type BacktestResult struct {
	Config      Config
	EquityCurve []EquityPoint
	Trades      []Trade
	Metrics     PerformanceMetrics
	Manifest    RunManifest

	// Events is non-nil only when the engine was built WithEventLog.
	Events *EventLog
}

func buildManifest(cfg *Config, data *MarketData) RunManifest {
	h := sha256.New()
	symbols := make([]string, 0, len(data.Assets))
	bars := 0
	for i := range data.Assets {
		a := &data.Assets[i]
		symbols = append(symbols, a.Bars.Symbol)
		fmt.Fprintf(h, "%s\n", a.Bars.Symbol)
		for j := range a.Bars.Bars {
			b := &a.Bars.Bars[j]
			fmt.Fprintf(h, "%d,%s,%s,%s,%s,%s\n",
				b.Timestamp, b.Open, b.High, b.Low, b.Close, b.Volume)
		}
		bars += len(a.Bars.Bars)
	}
	return RunManifest{
		ConfigHash:    cfg.Hash(),
		DataChecksum:  fmt.Sprintf("%x", h.Sum(nil)),
		EngineVersion: EngineVersion,
		Symbols:       symbols,
		BarCount:      bars,
	}
}
