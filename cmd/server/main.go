// Package main implements the backtest service with gRPC and HTTP APIs.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	pb "backtest-engine/proto"
	"backtest-engine/services/arrowpipeline"
	"backtest-engine/services/clickhouse"
	"backtest-engine/services/config"
	"backtest-engine/services/engine"
	"backtest-engine/services/store"
	"backtest-engine/strategies"
)

// BacktestService implements the backtest API over the simulation engine.
type BacktestService struct {
	pb.UnimplementedBacktestServiceServer

	clickhouse *clickhouse.Client
	results    *store.ParquetStore
	registry   *store.RunRegistry
	arrow      *arrowpipeline.Pipeline
	logger     *zap.Logger
	config     *config.Config
}

// NewBacktestService wires the service dependencies from configuration.
func NewBacktestService(cfg *config.Config, logger *zap.Logger) (*BacktestService, error) {
	chClient, err := clickhouse.NewClient(clickhouse.Options{
		Addr:     cfg.ClickHouse.Addr,
		Database: cfg.ClickHouse.Database,
		Table:    cfg.ClickHouse.Table,
		User:     cfg.ClickHouse.User,
		Password: cfg.ClickHouse.Password,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	registry, err := store.NewRunRegistry(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("run registry: %w", err)
	}

	return &BacktestService{
		clickhouse: chClient,
		results:    store.NewParquetStore(cfg.Storage.DataDir),
		registry:   registry,
		arrow:      arrowpipeline.NewPipeline(logger),
		logger:     logger,
		config:     cfg,
	}, nil
}

// Close releases the service's connections.
func (s *BacktestService) Close() {
	if err := s.clickhouse.Close(); err != nil {
		s.logger.Warn("closing clickhouse client", zap.Error(err))
	}
	if err := s.registry.Close(); err != nil {
		s.logger.Warn("closing run registry", zap.Error(err))
	}
}

// ExecuteBacktest loads data, runs one simulation, and persists the result.
func (s *BacktestService) ExecuteBacktest(ctx context.Context, req *pb.BacktestRequest) (*pb.BacktestResponse, error) {
	started := time.Now()
	runID := uuid.New().String()

	if len(req.Symbols) == 0 {
		return nil, fmt.Errorf("no symbols requested")
	}
	if req.StartTime >= req.EndTime {
		return nil, fmt.Errorf("start time %d is not before end time %d", req.StartTime, req.EndTime)
	}

	engineCfg, err := buildEngineConfig(&req.Config)
	if err != nil {
		return nil, err
	}
	strat, err := strategies.Build(req.Strategy, req.StrategyParams)
	if err != nil {
		return nil, err
	}

	s.logger.Info("starting backtest",
		zap.String("run_id", runID),
		zap.Strings("symbols", req.Symbols),
		zap.String("strategy", strat.Name()),
		zap.String("interval", req.Interval),
	)

	data, err := s.loadMarketData(ctx, req, strat)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(engineCfg, engine.WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	result, err := eng.Run(data)
	if err != nil {
		return nil, err
	}

	if err := s.persistResult(ctx, runID, strat.Name(), result); err != nil {
		return nil, err
	}

	s.logger.Info("backtest finished",
		zap.String("run_id", runID),
		zap.Int("trades", result.Metrics.TotalTrades),
		zap.String("net_profit", result.Metrics.NetProfit.String()),
		zap.Duration("elapsed", time.Since(started)),
	)

	return &pb.BacktestResponse{
		RunId:           runID,
		ExecutionTimeMs: time.Since(started).Milliseconds(),
		Trades:          convertTrades(result.Trades),
		EquityCurve:     convertEquityCurve(result.EquityCurve),
		Metrics:         convertMetrics(&result.Metrics),
		Manifest:        convertManifest(&result.Manifest),
	}, nil
}

// loadMarketData fetches bars and generates signals for every requested
// symbol, in parallel across a worker pool.
func (s *BacktestService) loadMarketData(ctx context.Context, req *pb.BacktestRequest, strat strategies.Strategy) (*engine.MarketData, error) {
	numWorkers := runtime.NumCPU()
	if s.config.Engine.MaxWorkers > 0 {
		numWorkers = s.config.Engine.MaxWorkers
	}
	if numWorkers > len(req.Symbols) {
		numWorkers = len(req.Symbols)
	}

	symbolChan := make(chan int, len(req.Symbols))
	errorChan := make(chan error, len(req.Symbols))
	assets := make([]engine.AssetData, len(req.Symbols))

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range symbolChan {
				asset, err := s.loadAsset(ctx, req, strat, req.Symbols[i])
				if err != nil {
					errorChan <- err
					continue
				}
				assets[i] = asset
			}
		}()
	}
	for i := range req.Symbols {
		symbolChan <- i
	}
	close(symbolChan)
	wg.Wait()
	close(errorChan)

	for err := range errorChan {
		if err != nil {
			return nil, err
		}
	}

	totalBars := 0
	for i := range assets {
		totalBars += len(assets[i].Bars.Bars)
	}
	if limit := s.config.Engine.MaxBarsPerRequest; limit > 0 && totalBars > limit {
		return nil, fmt.Errorf("request spans %d bars, limit is %d", totalBars, limit)
	}

	return &engine.MarketData{Assets: assets}, nil
}

func (s *BacktestService) loadAsset(ctx context.Context, req *pb.BacktestRequest, strat strategies.Strategy, symbol string) (engine.AssetData, error) {
	bars, err := s.clickhouse.LoadBars(ctx, symbol, req.Interval, req.StartTime, req.EndTime)
	if err != nil {
		return engine.AssetData{}, err
	}
	if len(bars.Bars) == 0 {
		return engine.AssetData{}, fmt.Errorf("no bars for %s in requested range", symbol)
	}
	signals, err := strategies.Signals(strat, bars)
	if err != nil {
		return engine.AssetData{}, err
	}
	return engine.AssetData{Bars: bars, Signals: signals}, nil
}

func (s *BacktestService) persistResult(ctx context.Context, runID, strategy string, result *engine.BacktestResult) error {
	if err := s.results.WriteTrades(ctx, runID, result.Trades); err != nil {
		return fmt.Errorf("persist trades: %w", err)
	}
	if err := s.results.WriteEquityCurve(ctx, runID, result.EquityCurve); err != nil {
		return fmt.Errorf("persist equity curve: %w", err)
	}
	if err := s.registry.RecordResult(ctx, runID, strategy, result); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// buildEngineConfig parses the wire config into engine parameters.
func buildEngineConfig(c *pb.EngineConfig) (engine.Config, error) {
	var cfg engine.Config
	var err error

	if cfg.InitialCapital, err = parseMoney(c.InitialCapital, "initial_capital"); err != nil {
		return cfg, err
	}
	if cfg.FeeRate, err = parseMoneyDefault(c.FeeRate, "fee_rate"); err != nil {
		return cfg, err
	}
	if cfg.SlippageRate, err = parseMoneyDefault(c.SlippageRate, "slippage_rate"); err != nil {
		return cfg, err
	}
	if cfg.MinOrderAmount, err = parseMoneyDefault(c.MinOrderAmount, "min_order_amount"); err != nil {
		return cfg, err
	}
	if cfg.RiskFraction, err = parseMoneyDefault(c.RiskFraction, "risk_fraction"); err != nil {
		return cfg, err
	}
	if cfg.StopLossPct, err = parseOptional(c.StopLossPct, "stop_loss_pct"); err != nil {
		return cfg, err
	}
	if cfg.TakeProfitPct, err = parseOptional(c.TakeProfitPct, "take_profit_pct"); err != nil {
		return cfg, err
	}
	if cfg.TrailingStopPct, err = parseOptional(c.TrailingStopPct, "trailing_stop_pct"); err != nil {
		return cfg, err
	}

	cfg.MaxSlots = c.MaxSlots
	cfg.WhipsawSuppressBars = c.WhipsawSuppressBars
	cfg.PeriodsPerYear = c.PeriodsPerYear

	switch c.Sizing {
	case "", "equal_weight":
		cfg.Sizing = engine.SizingEqualWeight
	case "fixed_fractional":
		cfg.Sizing = engine.SizingFixedFractional
	case "risk_per_trade":
		cfg.Sizing = engine.SizingRiskPerTrade
	default:
		return cfg, fmt.Errorf("unknown sizing mode %q", c.Sizing)
	}

	return cfg, cfg.Validate()
}

func parseMoney(s, field string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", field, err)
	}
	return v, nil
}

func parseMoneyDefault(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return parseMoney(s, field)
}

func parseOptional(s, field string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := parseMoney(s, field)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: v, Valid: true}, nil
}

func convertTrades(trades []engine.Trade) []*pb.Trade {
	out := make([]*pb.Trade, len(trades))
	for i := range trades {
		t := &trades[i]
		out[i] = &pb.Trade{
			Symbol:      t.Symbol,
			EntryTime:   t.EntryTime,
			ExitTime:    t.ExitTime,
			EntryPrice:  t.EntryPrice.String(),
			ExitPrice:   t.ExitPrice.String(),
			Quantity:    t.Quantity.String(),
			RealizedPnl: t.RealizedPnl.String(),
			PnlPct:      t.PnlPct.String(),
			ExitReason:  t.Reason.String(),
			Commission:  t.Commission.String(),
			Slippage:    t.Slippage.String(),
			BarsHeld:    t.BarsHeld,
		}
	}
	return out
}

func convertEquityCurve(curve []engine.EquityPoint) []*pb.EquityPoint {
	out := make([]*pb.EquityPoint, len(curve))
	for i := range curve {
		out[i] = &pb.EquityPoint{
			Timestamp: curve[i].Timestamp,
			Equity:    curve[i].Equity.String(),
			Drawdown:  curve[i].Drawdown.String(),
		}
	}
	return out
}

func convertMetrics(m *engine.PerformanceMetrics) *pb.Metrics {
	return &pb.Metrics{
		TotalTrades:     m.TotalTrades,
		Wins:            m.Wins,
		Losses:          m.Losses,
		Liquidations:    m.Liquidations,
		NetProfit:       m.NetProfit.String(),
		TotalCommission: m.TotalCommission.String(),
		TotalSlippage:   m.TotalSlippage.String(),
		WinRate:         m.WinRate,
		ProfitFactor:    m.ProfitFactor,
		CAGR:            m.CAGR,
		MaxDrawdown:     m.MaxDrawdown,
		Sharpe:          m.Sharpe,
		Calmar:          m.Calmar,
	}
}

func convertManifest(m *engine.RunManifest) *pb.RunManifest {
	return &pb.RunManifest{
		ConfigHash:    m.ConfigHash,
		DataChecksum:  m.DataChecksum,
		EngineVersion: m.EngineVersion,
		Symbols:       m.Symbols,
		BarCount:      m.BarCount,
	}
}

// HTTP handlers for the REST API
func (s *BacktestService) setupHTTPRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/backtest", s.handleBacktestRequest)
		api.GET("/backtest/:run_id", s.handleGetRun)
		api.GET("/backtest/:run_id/equity.arrow", s.handleGetEquityArrow)
		api.GET("/runs", s.handleListRuns)
		api.GET("/strategies", s.handleListStrategies)
		api.GET("/health", s.handleHealthCheck)
	}
}

func (s *BacktestService) handleBacktestRequest(c *gin.Context) {
	var req pb.BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.ExecuteBacktest(c.Request.Context(), &req)
	if err != nil {
		s.logger.Error("backtest request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *BacktestService) handleGetRun(c *gin.Context) {
	runID := c.Param("run_id")
	rec, err := s.registry.GetRun(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("run %s not found", runID)})
		return
	}
	trades, err := s.results.ReadTrades(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"run":    rec,
		"trades": convertTrades(trades),
	})
}

// handleGetEquityArrow streams a stored equity curve as Arrow IPC.
func (s *BacktestService) handleGetEquityArrow(c *gin.Context) {
	runID := c.Param("run_id")
	curve, err := s.results.ReadEquityCurve(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("equity curve for run %s not found", runID)})
		return
	}
	data, err := s.arrow.EncodeEquityCurve(curve)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/vnd.apache.arrow.stream", data)
}

func (s *BacktestService) handleListRuns(c *gin.Context) {
	runs, err := s.registry.ListRuns(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *BacktestService) handleListStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, pb.ListStrategiesResponse{Strategies: strategies.Names()})
}

func (s *BacktestService) handleHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"version":   engine.EngineVersion,
	})
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	// Optional .env for local development.
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

	logger.Info("starting backtest service",
		zap.String("version", engine.EngineVersion),
		zap.Int("http_port", cfg.Server.Port),
		zap.Int("grpc_port", cfg.Server.GRPCPort),
	)

	service, err := NewBacktestService(cfg, logger)
	if err != nil {
		logger.Fatal("failed to create backtest service", zap.Error(err))
	}
	defer service.Close()

	grpcServer := grpc.NewServer()
	pb.RegisterBacktestServiceServer(grpcServer, service)
	reflection.Register(grpcServer)

	gin.SetMode(gin.ReleaseMode)
	httpRouter := gin.New()
	httpRouter.Use(gin.Recovery())
	service.setupHTTPRoutes(httpRouter)

	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort))
		if err != nil {
			logger.Fatal("failed to listen on gRPC port", zap.Error(err))
		}
		logger.Info("gRPC server listening", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("gRPC serve", zap.Error(err))
		}
	}()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := httpRouter.Run(addr); err != nil {
			logger.Fatal("HTTP serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	grpcServer.GracefulStop()
}
