package engine

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// EngineVersion is recorded in every run manifest.
const EngineVersion = "1.0.0"

// Engine runs bar-by-bar simulations. It is immutable after construction:
// every Run builds fresh per-run state, so one Engine may be shared by any
// number of goroutines running walk-forward segments or resamples.
type Engine struct {
	cfg          Config
	costs        CostModel
	logger       *zap.Logger
	recordEvents bool
}

type Option func(*Engine)

// WithLogger attaches a structured logger. The default is zap.NewNop so
// library callers stay silent.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCostModel replaces the default RateCostModel.
func WithCostModel(m CostModel) Option {
	return func(e *Engine) { e.costs = m }
}

// WithEventLog makes each result carry a per-run event journal.
func WithEventLog() Option {
	return func(e *Engine) { e.recordEvents = true }
}

// New validates the config once and returns a ready engine. Configuration
// errors surface here, before any simulation work begins.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		costs:  RateCostModel{FeeRate: cfg.FeeRate, SlippageRate: cfg.SlippageRate},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns a copy of the engine's configuration.
func (e *Engine) Config() Config { return e.cfg }

// assetState is the per-asset cursor over the merged time axis.
type assetState struct {
	data *AssetData

	// barIdx is the asset-local index of the bar at the current time step,
	// or -1 when the asset has no bar at this step.
	barIdx int
	// cursor is the next unconsumed asset-local bar index.
	cursor int
	// blockedUntil suppresses re-entry through this asset-local bar index.
	blockedUntil int
	// closedThisStep blocks same-step re-entry after any exit.
	closedThisStep bool
}

func (s *assetState) symbol() string { return s.data.Bars.Symbol }

func (s *assetState) bar() Bar { return s.data.Bars.Bars[s.barIdx] }

// priorSignal returns the most recently fully-closed bar's signal: entry and
// exit decisions lag one bar, fills happen on the current bar.
func (s *assetState) priorSignal() (Signal, bool) {
	if s.barIdx < 1 {
		return Signal{}, false
	}
	return s.data.Signals.Signals[s.barIdx-1], true
}

// runState is everything mutable during one Run.
type runState struct {
	engine *Engine
	book   *capitalBook
	ledger *ledger
	assets []*assetState
	curve  []EquityPoint
	peak   decimal.Decimal
	events *EventLog
}

// Run replays the market data against the configured rules and returns the
// full result. Identical (config, data) inputs produce identical results.
func (e *Engine) Run(data *MarketData) (*BacktestResult, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}

	r := &runState{
		engine: e,
		book:   newCapitalBook(&e.cfg),
		ledger: newLedger(),
		peak:   e.cfg.InitialCapital,
	}
	if e.recordEvents {
		r.events = &EventLog{}
	}
	for i := range data.Assets {
		r.assets = append(r.assets, &assetState{
			data:         &data.Assets[i],
			barIdx:       -1,
			blockedUntil: -1,
		})
	}

	axis := data.timeAxis()
	for step, ts := range axis {
		r.resolveBars(ts)

		// Exits run for every asset before any entry so capital freed this
		// bar is available to this bar's entries.
		for _, st := range r.assets {
			if err := r.evaluateExit(st, ts); err != nil {
				return nil, err
			}
		}
		for _, st := range r.assets {
			if err := r.evaluateEntry(st, ts); err != nil {
				return nil, err
			}
		}
		r.updateTrailingMarks()

		if err := r.snapshotEquity(ts); err != nil {
			return nil, err
		}
		if err := r.checkInvariants(ts, step); err != nil {
			return nil, err
		}

		r.advanceCursors()
	}

	if err := r.liquidateRemaining(); err != nil {
		return nil, err
	}

	metrics := ComputeMetrics(r.curve, r.ledger.trades, e.periodsPerYear(r.curve))
	result := &BacktestResult{
		Config:      e.cfg,
		EquityCurve: r.curve,
		Trades:      r.ledger.trades,
		Metrics:     metrics,
		Manifest:    buildManifest(&e.cfg, data),
		Events:      r.events,
	}
	e.logger.Debug("run complete",
		zap.Int("bars", len(axis)),
		zap.Int("trades", len(result.Trades)),
		zap.String("final_equity", finalEquity(r.curve).String()),
	)
	return result, nil
}

// resolveBars positions every asset on the current time step.
func (r *runState) resolveBars(ts int64) {
	for _, st := range r.assets {
		st.closedThisStep = false
		bars := st.data.Bars.Bars
		if st.cursor < len(bars) && bars[st.cursor].Timestamp == ts {
			st.barIdx = st.cursor
		} else {
			st.barIdx = -1
		}
	}
}

func (r *runState) advanceCursors() {
	for _, st := range r.assets {
		if st.barIdx >= 0 {
			st.cursor = st.barIdx + 1
		}
	}
}

// updateTrailingMarks raises each open position's high-water mark with the
// current bar's high. Done after exit and entry evaluation so a bar cannot
// trigger the trailing stop against its own spike.
func (r *runState) updateTrailingMarks() {
	for _, st := range r.assets {
		if st.barIdx < 0 {
			continue
		}
		pos := r.ledger.position(st.symbol())
		if pos == nil {
			continue
		}
		if high := st.bar().High; high.GreaterThan(pos.HighestSinceEntry) {
			pos.HighestSinceEntry = high
		}
	}
}

// checkInvariants asserts capital conservation and the slot bound after
// every bar. A violation is a bug in the evaluators, not a data problem.
func (r *runState) checkInvariants(ts int64, step int) error {
	if r.book.committedSlots > r.book.maxSlots {
		return invariantErrf("", step, "committed slots %d exceed max %d",
			r.book.committedSlots, r.book.maxSlots)
	}
	if !r.book.conserved(r.ledger.committedCapital()) {
		return invariantErrf("", step, "capital not conserved at ts %d", ts)
	}
	return nil
}

// liquidateRemaining force-closes every position still open after the last
// bar, at that asset's final close.
func (r *runState) liquidateRemaining() error {
	for _, st := range r.assets {
		pos := r.ledger.position(st.symbol())
		if pos == nil {
			continue
		}
		bars := st.data.Bars.Bars
		last := len(bars) - 1
		if err := r.closeAt(st, pos, last, bars[last].Timestamp, bars[last].Close, ExitLiquidation); err != nil {
			return err
		}
	}
	return nil
}

// periodsPerYear returns the annualisation basis: configured, or inferred
// from the median bar spacing of the produced curve.
func (e *Engine) periodsPerYear(curve []EquityPoint) float64 {
	if e.cfg.PeriodsPerYear > 0 {
		return e.cfg.PeriodsPerYear
	}
	return inferPeriodsPerYear(curve)
}

func finalEquity(curve []EquityPoint) decimal.Decimal {
	if len(curve) == 0 {
		return decimal.Zero
	}
	return curve[len(curve)-1].Equity
}
