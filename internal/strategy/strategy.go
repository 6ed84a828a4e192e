// Package strategy defines the three pluggable stages of the simulation
// pipeline (selection, entry, exit) and a registry that resolves stage
// implementations from stable string identifiers. New variants are added
// by implementing an interface and registering a factory; the orchestrator
// is never modified.
package strategy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/helios-quant/backend/internal/contracts"
	"github.com/helios-quant/backend/internal/forecast"
	"github.com/helios-quant/backend/internal/marketdata"
)

// Selector narrows the universe to the instruments eligible on one date.
// Implementations must be pure functions of their inputs so that replays
// reproduce identical runs. An empty result is "no action today", not an
// error.
type Selector interface {
	Select(ctx context.Context, date time.Time, universe []contracts.Instrument, data *marketdata.View) ([]contracts.Instrument, error)
}

// Entry proposes directional, weighted signals for the selected
// candidates. Target weights need not sum to 1; the ledger normalizes
// against buying power at execution time.
type Entry interface {
	GenerateSignals(ctx context.Context, candidates []contracts.Instrument, date time.Time, data *marketdata.View) (map[contracts.Instrument]contracts.Signal, error)
}

// Exit decides which open positions to flatten or reverse on one date.
type Exit interface {
	GenerateExits(ctx context.Context, positions map[contracts.Instrument]*contracts.Position, date time.Time, data *marketdata.View) (contracts.ExitSet, error)
}

// Params carries stage parameters from the run configuration. Values come
// from YAML, hence the permissive accessors.
type Params map[string]any

// Float returns a numeric parameter or the fallback.
func (p Params) Float(key string, fallback float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

// Int returns an integer parameter or the fallback.
func (p Params) Int(key string, fallback int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// Bool returns a boolean parameter or the fallback.
func (p Params) Bool(key string, fallback bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return fallback
}

// Has reports whether a parameter was supplied at all.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Deps carries injected collaborators available to stage factories. Only
// the model-driven entry needs the predictor; factories that require a
// missing dependency fail at assembly time, which is a configuration
// error.
type Deps struct {
	Predictor forecast.Predictor
	Factors   *marketdata.FactorCache
}

// Stage factories.
type (
	SelectorFactory func(p Params, deps Deps) (Selector, error)
	EntryFactory    func(p Params, deps Deps) (Entry, error)
	ExitFactory     func(p Params, deps Deps) (Exit, error)
)

// Registry maps stable identifiers to stage factories.
// SSOT: stage lookup happens here only.
type Registry struct {
	selectors map[string]SelectorFactory
	entries   map[string]EntryFactory
	exits     map[string]ExitFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		selectors: make(map[string]SelectorFactory),
		entries:   make(map[string]EntryFactory),
		exits:     make(map[string]ExitFactory),
	}
}

// DefaultRegistry returns a registry with all built-in stages registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.RegisterSelector("all", newAllSelector)
	r.RegisterSelector("top_n_momentum", newMomentumSelector)
	r.RegisterSelector("liquidity_filter", newLiquiditySelector)

	r.RegisterEntry("constant_long", newConstantLongEntry)
	r.RegisterEntry("momentum_rule", newMomentumRuleEntry)
	r.RegisterEntry("model", newModelEntry)

	r.RegisterExit("max_holding_days", newMaxHoldingDaysExit)
	r.RegisterExit("target_band", newTargetBandExit)
	r.RegisterExit("signal_reversal", newSignalReversalExit)

	return r
}

// RegisterSelector adds a selector factory under id, replacing any
// previous registration.
func (r *Registry) RegisterSelector(id string, f SelectorFactory) {
	r.selectors[id] = f
}

// RegisterEntry adds an entry factory under id.
func (r *Registry) RegisterEntry(id string, f EntryFactory) {
	r.entries[id] = f
}

// RegisterExit adds an exit factory under id.
func (r *Registry) RegisterExit(id string, f ExitFactory) {
	r.exits[id] = f
}

// Selector builds the selector registered under id.
func (r *Registry) Selector(id string, p Params, deps Deps) (Selector, error) {
	f, ok := r.selectors[id]
	if !ok {
		return nil, fmt.Errorf("unknown selector %q (registered: %v)", id, sortedIDs(r.selectors))
	}
	return f(p, deps)
}

// Entry builds the entry registered under id.
func (r *Registry) Entry(id string, p Params, deps Deps) (Entry, error) {
	f, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("unknown entry %q (registered: %v)", id, sortedIDs(r.entries))
	}
	return f(p, deps)
}

// Exit builds the exit registered under id.
func (r *Registry) Exit(id string, p Params, deps Deps) (Exit, error) {
	f, ok := r.exits[id]
	if !ok {
		return nil, fmt.Errorf("unknown exit %q (registered: %v)", id, sortedIDs(r.exits))
	}
	return f(p, deps)
}

func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
