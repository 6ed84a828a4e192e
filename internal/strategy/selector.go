package strategy

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/helios-quant/backend/internal/contracts"
	"github.com/helios-quant/backend/internal/marketdata"
)

// allSelector passes the whole universe through unchanged. Useful as a
// baseline and for small hand-picked universes.
type allSelector struct{}

func newAllSelector(Params, Deps) (Selector, error) {
	return allSelector{}, nil
}

func (allSelector) Select(_ context.Context, _ time.Time, universe []contracts.Instrument, _ *marketdata.View) ([]contracts.Instrument, error) {
	return universe, nil
}

// momentumSelector ranks the universe by trailing return and keeps the
// instruments above a minimum, optionally truncated to the top N.
type momentumSelector struct {
	lookbackDays int
	minReturn    float64
	topN         int
	factors      *marketdata.FactorCache
}

func newMomentumSelector(p Params, deps Deps) (Selector, error) {
	return &momentumSelector{
		lookbackDays: p.Int("lookback_days", 20),
		minReturn:    p.Float("min_return", 0.0),
		topN:         p.Int("top_n", 0),
		factors:      deps.Factors,
	}, nil
}

func (s *momentumSelector) Select(ctx context.Context, date time.Time, universe []contracts.Instrument, data *marketdata.View) ([]contracts.Instrument, error) {
	type scored struct {
		inst  contracts.Instrument
		value float64
	}

	ranked := make([]scored, 0, len(universe))
	for _, inst := range universe {
		mom, ok, err := trailingReturn(ctx, s.factors, data, inst, date, s.lookbackDays)
		if err != nil {
			return nil, err
		}
		if !ok || mom < s.minReturn {
			continue
		}
		ranked = append(ranked, scored{inst: inst, value: mom})
	}

	// Rank by momentum, instrument id breaking ties for reproducibility.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].value != ranked[j].value {
			return ranked[i].value > ranked[j].value
		}
		return ranked[i].inst < ranked[j].inst
	})

	if s.topN > 0 && len(ranked) > s.topN {
		ranked = ranked[:s.topN]
	}

	out := make([]contracts.Instrument, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.inst)
	}
	return out, nil
}

// liquiditySelector keeps instruments whose average volume over the
// lookback window clears a floor. Illiquid names distort fills badly
// enough that most strategies screen them out before anything else.
type liquiditySelector struct {
	lookbackDays int
	minAvgVolume float64
}

func newLiquiditySelector(p Params, _ Deps) (Selector, error) {
	return &liquiditySelector{
		lookbackDays: p.Int("lookback_days", 20),
		minAvgVolume: p.Float("min_avg_volume", 0),
	}, nil
}

func (s *liquiditySelector) Select(ctx context.Context, date time.Time, universe []contracts.Instrument, data *marketdata.View) ([]contracts.Instrument, error) {
	out := make([]contracts.Instrument, 0, len(universe))
	for _, inst := range universe {
		bars, err := data.History(ctx, inst, date, s.lookbackDays)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			continue
		}

		var total int64
		for _, b := range bars {
			total += b.Volume
		}
		if float64(total)/float64(len(bars)) >= s.minAvgVolume {
			out = append(out, inst)
		}
	}
	return out, nil
}

// trailingReturn computes close-over-close return across the lookback
// window, memoized in the shared factor cache when one is supplied.
// ok=false means insufficient history.
func trailingReturn(ctx context.Context, cache *marketdata.FactorCache, data *marketdata.View, inst contracts.Instrument, date time.Time, lookbackDays int) (float64, bool, error) {
	compute := func() (map[string]float64, error) {
		bars, err := data.History(ctx, inst, date, lookbackDays+1)
		if err != nil {
			return nil, err
		}
		if len(bars) < 2 {
			return map[string]float64{}, nil
		}
		first := bars[0].Close
		last := bars[len(bars)-1].Close
		if first.IsZero() {
			return map[string]float64{}, nil
		}
		mom, _ := last.Sub(first).Div(first).Float64()
		return map[string]float64{"trailing_return": mom}, nil
	}

	var vec map[string]float64
	var err error
	if cache != nil {
		key := marketdata.CacheKey{
			Instrument: inst,
			RangeEnd:   date.Format("2006-01-02"),
			Params:     "trailing_return:" + strconv.Itoa(lookbackDays),
		}
		vec, err = cache.GetOrCompute(key, compute)
	} else {
		vec, err = compute()
	}
	if err != nil {
		return 0, false, err
	}

	mom, ok := vec["trailing_return"]
	return mom, ok, nil
}
