// Command run_backtest runs one simulation from the command line, from a
// local CSV or straight out of ClickHouse, prints a summary, and optionally
// exports trades and robustness checks.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"backtest-engine/services/clickhouse"
	"backtest-engine/services/engine"
	"backtest-engine/services/store"
	"backtest-engine/services/validation"
	"backtest-engine/strategies"
)

func main() {
	csvPath := flag.String("csv", "", "Path to local OHLCV CSV; if set, skip ClickHouse")
	chAddr := flag.String("ch-addr", "localhost:19000", "ClickHouse native address")
	chDB := flag.String("ch-db", "backtest", "ClickHouse database")
	chTable := flag.String("ch-table", "data", "ClickHouse table")
	chUser := flag.String("ch-user", "backtest", "ClickHouse user")
	chPass := flag.String("ch-pass", "backtest123", "ClickHouse password")
	symbols := flag.String("symbols", "BTCUSDT", "Comma-separated symbols")
	interval := flag.String("interval", "5m", "Bar interval")
	from := flag.String("from", "2020-09-01", "Start UTC (YYYY-MM-DD)")
	to := flag.String("to", "2024-10-01", "End UTC (YYYY-MM-DD)")

	strategyName := flag.String("strategy", "donchian_breakout", "Strategy name")
	params := flag.String("params", "", "Strategy params as k=v,k=v")

	capital := flag.String("capital", "10000", "Initial capital")
	feeRate := flag.String("fee", "0.001", "Fee rate per side")
	slipRate := flag.String("slippage", "0", "Slippage rate per side")
	maxSlots := flag.Int("slots", 1, "Max concurrent positions")
	stopLoss := flag.String("sl", "", "Stop loss percent, e.g. 0.01")
	takeProfit := flag.String("tp", "", "Take profit percent, e.g. 0.026")
	trailing := flag.String("trail", "", "Trailing stop percent")
	sizing := flag.String("sizing", "equal_weight", "Sizing mode: equal_weight, fixed_fractional, risk_per_trade")
	riskFraction := flag.String("risk", "", "Cash fraction for fractional sizing")
	whipsaw := flag.Int("whipsaw", 0, "Extra bars of re-entry suppression after a stop")
	periodsPerYear := flag.Float64("ppy", 105120, "Bars per year for annualisation (105120 = 5m)")

	outCSV := flag.String("out", "", "Trades CSV output path")
	mcIters := flag.Int("mc-iters", 0, "Monte Carlo iterations (0 = skip)")
	permIters := flag.Int("perm-iters", 0, "Permutation test iterations (0 = skip)")
	seed := flag.Int64("seed", 42, "Random seed for robustness checks")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := buildConfig(*capital, *feeRate, *slipRate, *stopLoss, *takeProfit, *trailing, *riskFraction, *sizing, *maxSlots, *whipsaw, *periodsPerYear)
	if err != nil {
		log.Fatalf("Bad engine config: %v", err)
	}
	strat, err := strategies.Build(*strategyName, parseParams(*params))
	if err != nil {
		log.Fatalf("Bad strategy: %v", err)
	}

	symbolList := splitSymbols(*symbols)
	data, err := loadData(*csvPath, symbolList, *interval, *from, *to, *chAddr, *chDB, *chTable, *chUser, *chPass, strat, logger)
	if err != nil {
		log.Fatalf("Failed to load market data: %v", err)
	}

	eng, err := engine.New(cfg, engine.WithLogger(logger))
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}
	result, err := eng.Run(data)
	if err != nil {
		log.Fatalf("Backtest failed: %v", err)
	}

	printSummary(symbolList, *from, *to, result)

	if *outCSV != "" {
		if err := store.ExportTradesCSV(*outCSV, result.Trades); err != nil {
			log.Fatalf("Failed to export trades: %v", err)
		}
		fmt.Printf("Trades written to %s\n", *outCSV)
	}

	if *mcIters > 0 {
		report, err := validation.RunMonteCarlo(result, validation.MonteCarloConfig{
			Iterations: *mcIters,
			BlockSize:  5,
			Seed:       *seed,
		})
		if err != nil {
			log.Fatalf("Monte Carlo failed: %v", err)
		}
		fmt.Printf("Monte Carlo (%d paths) → FinalEquity P5: %.2f, P50: %.2f, P95: %.2f, ProbLoss: %.2f%%\n",
			report.Iterations, report.FinalEquity.P5, report.FinalEquity.P50, report.FinalEquity.P95, report.ProbLoss*100)
		fmt.Printf("Max Drawdown P95: %.2f%%\n", report.MaxDrawdown.P95*100)
	}

	if *permIters > 0 {
		perm, err := validation.NewPermutationTest(cfg, validation.PermutationConfig{
			Iterations: *permIters,
			Seed:       *seed,
		}, validation.WithLogger(logger))
		if err != nil {
			log.Fatalf("Permutation setup failed: %v", err)
		}
		report, err := perm.Run(context.Background(), data)
		if err != nil {
			log.Fatalf("Permutation test failed: %v", err)
		}
		fmt.Printf("Permutation (%d shuffles) → p-value: %.4f (%d of %d shuffled runs matched or beat $%s)\n",
			report.Iterations, report.PValue, report.BetterOrEqual, report.Iterations, report.ActualNetProfit)
	}
}

func loadData(csvPath string, symbols []string, interval, from, to, chAddr, chDB, chTable, chUser, chPass string, strat strategies.Strategy, logger *zap.Logger) (*engine.MarketData, error) {
	var series []engine.BarSeries

	if csvPath != "" {
		if len(symbols) != 1 {
			return nil, fmt.Errorf("csv mode takes exactly one symbol, got %d", len(symbols))
		}
		bars, err := store.LoadBarsCSV(csvPath, symbols[0])
		if err != nil {
			return nil, err
		}
		series = append(series, bars)
	} else {
		startMs, err := parseDay(from)
		if err != nil {
			return nil, fmt.Errorf("from: %w", err)
		}
		endMs, err := parseDay(to)
		if err != nil {
			return nil, fmt.Errorf("to: %w", err)
		}
		client, err := clickhouse.NewClient(clickhouse.Options{
			Addr:     chAddr,
			Database: chDB,
			Table:    chTable,
			User:     chUser,
			Password: chPass,
		}, logger)
		if err != nil {
			return nil, err
		}
		defer client.Close()

		ctx := context.Background()
		for _, sym := range symbols {
			bars, err := client.LoadBars(ctx, sym, interval, startMs, endMs)
			if err != nil {
				return nil, err
			}
			if len(bars.Bars) == 0 {
				return nil, fmt.Errorf("no bars for %s in requested range", sym)
			}
			series = append(series, bars)
		}
	}

	assets := make([]engine.AssetData, 0, len(series))
	for _, bars := range series {
		signals, err := strategies.Signals(strat, bars)
		if err != nil {
			return nil, err
		}
		assets = append(assets, engine.AssetData{Bars: bars, Signals: signals})
	}
	return &engine.MarketData{Assets: assets}, nil
}

func buildConfig(capital, fee, slip, sl, tp, trail, risk, sizing string, slots, whipsaw int, ppy float64) (engine.Config, error) {
	var cfg engine.Config
	var err error

	if cfg.InitialCapital, err = decimal.NewFromString(capital); err != nil {
		return cfg, fmt.Errorf("capital: %w", err)
	}
	if cfg.FeeRate, err = decimal.NewFromString(fee); err != nil {
		return cfg, fmt.Errorf("fee: %w", err)
	}
	if cfg.SlippageRate, err = decimal.NewFromString(slip); err != nil {
		return cfg, fmt.Errorf("slippage: %w", err)
	}
	if cfg.StopLossPct, err = parsePct(sl); err != nil {
		return cfg, fmt.Errorf("sl: %w", err)
	}
	if cfg.TakeProfitPct, err = parsePct(tp); err != nil {
		return cfg, fmt.Errorf("tp: %w", err)
	}
	if cfg.TrailingStopPct, err = parsePct(trail); err != nil {
		return cfg, fmt.Errorf("trail: %w", err)
	}
	if risk != "" {
		if cfg.RiskFraction, err = decimal.NewFromString(risk); err != nil {
			return cfg, fmt.Errorf("risk: %w", err)
		}
	}

	switch sizing {
	case "equal_weight":
		cfg.Sizing = engine.SizingEqualWeight
	case "fixed_fractional":
		cfg.Sizing = engine.SizingFixedFractional
	case "risk_per_trade":
		cfg.Sizing = engine.SizingRiskPerTrade
	default:
		return cfg, fmt.Errorf("unknown sizing mode %q", sizing)
	}

	cfg.MaxSlots = slots
	cfg.WhipsawSuppressBars = whipsaw
	cfg.PeriodsPerYear = ppy
	return cfg, cfg.Validate()
}

func parsePct(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: v, Valid: true}, nil
}

func parseParams(s string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		if ok {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return out
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

func parseDay(s string) (int64, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

func printSummary(symbols []string, from, to string, res *engine.BacktestResult) {
	m := res.Metrics
	fmt.Printf("Symbols: %s\n", strings.Join(symbols, ", "))
	fmt.Printf("Period: %s to %s UTC\n", from, to)
	fmt.Printf("Bars: %d\n", res.Manifest.BarCount)
	fmt.Printf("Summary → Trades: %d, Wins: %d, Losses: %d, WinRate: %.2f%%, NetPnL: $%s\n",
		m.TotalTrades, m.Wins, m.Losses, m.WinRate*100, m.NetProfit.StringFixed(2))
	fmt.Printf("MaxDD: %.2f%%, Sharpe: %.2f, CAGR: %.2f%%, ProfitFactor: %.2f\n",
		m.MaxDrawdown*100, m.Sharpe, m.CAGR*100, m.ProfitFactor)
	if len(res.EquityCurve) > 0 {
		last := res.EquityCurve[len(res.EquityCurve)-1]
		fmt.Printf("Final Equity: $%s\n", last.Equity.StringFixed(2))
	}
}
