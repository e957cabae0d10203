// Package strategies turns price history into per-bar entry and exit
// signals for the simulation engine. Strategies are pure with respect to the
// portfolio: they see bars, never positions or cash.
package strategies

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"backtest-engine/services/engine"
)

// Strategy computes signals for one symbol's bar history. Generate returns
// exactly one signal per input bar.
type Strategy interface {
	Name() string
	// WarmupBars is the number of leading bars consumed by indicator
	// seeding; no signal fires before it.
	WarmupBars() int
	Generate(bars engine.BarSeries) (engine.SignalSeries, error)
}

// StopProvider is the optional capability of strategies that derive their own
// protective stop per entry instead of relying on a configured percentage.
// Callers resolve the capability once, at construction, and then call
// StopLevel for entry bars only.
type StopProvider interface {
	StopLevel(bars []engine.Bar, i int) decimal.NullDecimal
}

// Signals runs s over bars and, when s provides its own stops, annotates
// every entry signal with one.
func Signals(s Strategy, bars engine.BarSeries) (engine.SignalSeries, error) {
	sigs, err := s.Generate(bars)
	if err != nil {
		return engine.SignalSeries{}, err
	}
	if len(sigs.Signals) != len(bars.Bars) {
		return engine.SignalSeries{}, fmt.Errorf("strategy %s: %d signals for %d bars",
			s.Name(), len(sigs.Signals), len(bars.Bars))
	}
	if sp, ok := s.(StopProvider); ok {
		for i := range sigs.Signals {
			if sigs.Signals[i].Entry {
				sigs.Signals[i].Stop = sp.StopLevel(bars.Bars, i)
			}
		}
	}
	return sigs, nil
}

// Factory builds a strategy from string parameters, as received over the
// service API.
type Factory func(params map[string]string) (Strategy, error)

var registry = map[string]Factory{}

// Register makes a strategy buildable by name. Duplicate names panic at init
// time.
func Register(name string, f Factory) {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("strategies: duplicate registration of %q", name))
	}
	registry[name] = f
}

// Build constructs a registered strategy by name.
func Build(name string, params map[string]string) (Strategy, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("strategies: unknown strategy %q", name)
	}
	return f(params)
}

// Names lists the registered strategies, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
