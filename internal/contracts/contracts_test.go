package contracts

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectionSignAndOpposite(t *testing.T) {
	assert.Equal(t, 1.0, DirectionLong.Sign())
	assert.Equal(t, -1.0, DirectionShort.Sign())
	assert.Equal(t, DirectionShort, DirectionLong.Opposite())
	assert.Equal(t, DirectionLong, DirectionShort.Opposite())
}

func TestPredictionScore(t *testing.T) {
	p := Prediction{ExpectedReturn: 0.10, Volatility: 0.2, Confidence: 0.5}
	assert.InDelta(t, 0.25, p.Score(), 1e-9)

	degenerate := Prediction{ExpectedReturn: 0.10, Volatility: 0, Confidence: 0.5}
	assert.Zero(t, degenerate.Score())
}

func TestSortedInstruments(t *testing.T) {
	m := map[Instrument]int{"CCC": 1, "AAA": 2, "BBB": 3}
	assert.Equal(t, []Instrument{"AAA", "BBB", "CCC"}, SortedInstruments(m))
	assert.Empty(t, SortedInstruments(map[Instrument]int{}))
}

func TestBarIndicator(t *testing.T) {
	bare := Bar{}
	_, ok := bare.Indicator("rsi")
	assert.False(t, ok)

	b := Bar{Indicators: map[string]float64{"rsi": 61.5}}
	v, ok := b.Indicator("rsi")
	require.True(t, ok)
	assert.Equal(t, 61.5, v)
}

func TestPositionValuesAndPnL(t *testing.T) {
	long := &Position{
		Instrument: "AAA",
		Direction:  DirectionLong,
		EntryPrice: decimal.NewFromInt(100),
		Shares:     decimal.NewFromInt(10),
		MarkPrice:  decimal.NewFromInt(110),
	}
	assert.True(t, long.MarketValue().Equal(decimal.NewFromInt(1100)))
	assert.True(t, long.SignedValue().Equal(decimal.NewFromInt(1100)))
	assert.InDelta(t, 0.10, long.PnLPct(), 1e-9)

	short := &Position{
		Instrument: "BBB",
		Direction:  DirectionShort,
		EntryPrice: decimal.NewFromInt(100),
		Shares:     decimal.NewFromInt(10),
		MarkPrice:  decimal.NewFromInt(90),
	}
	assert.True(t, short.MarketValue().Equal(decimal.NewFromInt(900)))
	assert.True(t, short.SignedValue().Equal(decimal.NewFromInt(-900)))
	assert.InDelta(t, 0.10, short.PnLPct(), 1e-9, "short gains when the mark falls")

	zeroEntry := &Position{MarkPrice: decimal.NewFromInt(5)}
	assert.Zero(t, zeroEntry.PnLPct())
}

func TestExitSetMergeFirstWins(t *testing.T) {
	set := NewExitSet()
	assert.True(t, set.Empty())

	set.Close["AAA"] = "stop_loss"

	other := NewExitSet()
	other.Close["AAA"] = "take_profit"
	other.Close["BBB"] = "max_holding_days"
	set.Merge(other)

	assert.Equal(t, "stop_loss", set.Close["AAA"], "earlier merge keeps priority")
	assert.Equal(t, "max_holding_days", set.Close["BBB"])
	assert.False(t, set.Empty())
}

func TestExitSetMergeCloseBeatsReverse(t *testing.T) {
	set := NewExitSet()
	set.Reverse["AAA"] = Signal{Instrument: "AAA", Direction: DirectionShort, TargetWeight: 0.1}

	other := NewExitSet()
	other.Close["AAA"] = "portfolio_stop_loss"
	other.Reverse["BBB"] = Signal{Instrument: "BBB", Direction: DirectionLong, TargetWeight: 0.2}
	set.Merge(other)

	assert.Equal(t, "portfolio_stop_loss", set.Close["AAA"])
	_, reversed := set.Reverse["AAA"]
	assert.False(t, reversed, "close supersedes a pending reverse")
	assert.Equal(t, 0.2, set.Reverse["BBB"].TargetWeight)

	// A reverse never overrides an existing close.
	late := NewExitSet()
	late.Reverse["AAA"] = Signal{Instrument: "AAA", Direction: DirectionLong}
	set.Merge(late)
	_, reversed = set.Reverse["AAA"]
	assert.False(t, reversed)
}

func TestRiskLimitsValidate(t *testing.T) {
	require.NoError(t, DefaultRiskLimits().Validate())

	cases := []struct {
		name   string
		mutate func(*RiskLimits)
	}{
		{"zero position loss", func(r *RiskLimits) { r.MaxPositionLossPct = 0 }},
		{"zero portfolio loss", func(r *RiskLimits) { r.MaxPortfolioLossPct = 0 }},
		{"negative holding days", func(r *RiskLimits) { r.MaxHoldingDays = -1 }},
		{"zero leverage", func(r *RiskLimits) { r.MaxLeverage = 0 }},
		{"position size above one", func(r *RiskLimits) { r.MaxPositionSize = 1.5 }},
		{"sector concentration above one", func(r *RiskLimits) { r.MaxSectorConcentration = 1.1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			limits := DefaultRiskLimits()
			tc.mutate(&limits)
			assert.Error(t, limits.Validate())
		})
	}
}

func TestRiskLimitsShortable(t *testing.T) {
	limits := RiskLimits{ShortableInstruments: []Instrument{"AAA", "BBB"}}
	assert.True(t, limits.Shortable("AAA"))
	assert.False(t, limits.Shortable("CCC"))
}

func TestBacktestResultMetric(t *testing.T) {
	res := &BacktestResult{
		StrategyID: "momentum_v1",
		CreatedAt:  time.Now(),
		Metrics:    map[string]float64{"sharpe": 1.2},
	}
	v, ok := res.Metric("sharpe")
	require.True(t, ok)
	assert.Equal(t, 1.2, v)

	_, ok = res.Metric("sortino")
	assert.False(t, ok)
}
