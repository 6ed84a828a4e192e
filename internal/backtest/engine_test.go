package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helios-quant/backend/internal/contracts"
	"github.com/helios-quant/backend/internal/marketdata"
	"github.com/helios-quant/backend/internal/runconfig"
	"github.com/helios-quant/backend/internal/strategy"
)

// weekdays generates n consecutive weekdays starting 2024-01-02.
func weekdays(n int) []time.Time {
	dates := make([]time.Time, 0, n)
	d := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for len(dates) < n {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			dates = append(dates, d)
		}
		d = d.AddDate(0, 0, 1)
	}
	return dates
}

// testConfig wires the built-in pass-through selector and constant-long
// entry over a one-instrument universe.
func testConfig(maxHoldingDays int, weight float64) *runconfig.Config {
	return &runconfig.Config{
		Meta: runconfig.Meta{StrategyID: "engine_test"},
		Universe: []string{"AAA"},
		Calendar: runconfig.Calendar{
			StartDate:          "2024-01-02",
			EndDate:            "2024-12-31",
			RebalanceFrequency: "daily",
		},
		Capital:  runconfig.Capital{InitialCapital: "1000000"},
		Selector: runconfig.Component{ID: "all"},
		Entry:    runconfig.Component{ID: "constant_long", Params: map[string]any{"target_weight": weight}},
		Exits: []runconfig.Component{
			{ID: "max_holding_days", Params: map[string]any{"days": maxHoldingDays}},
		},
		Risk: contracts.RiskLimits{
			MaxPositionLossPct:     0.99,
			MaxPortfolioLossPct:    0.99,
			MaxLeverage:            1.0,
			MaxPositionSize:        1.0,
			MaxSectorConcentration: 1.0,
		},
	}
}

func flatSource(dates []time.Time, inst contracts.Instrument, closes map[int]string) *marketdata.MemorySource {
	src := marketdata.NewMemorySource(dates)
	price := "100"
	for i, d := range dates {
		if p, ok := closes[i]; ok {
			price = p
		}
		c := decimal.RequireFromString(price)
		src.Add(contracts.Bar{
			Instrument: inst,
			Date:       d,
			Open:       c,
			High:       c,
			Low:        c,
			Close:      c,
			Volume:     1_000_000,
		})
	}
	return src
}

func TestEngineClosesAfterMaxHoldingDays(t *testing.T) {
	dates := weekdays(10)
	src := flatSource(dates, "AAA", nil)

	eng, err := New(Options{
		Config: testConfig(5, 1.0),
		Source: src,
	})
	require.NoError(t, err)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	var closing *contracts.Trade
	for i := range result.Trades {
		if result.Trades[i].Closing {
			closing = &result.Trades[i]
			break
		}
	}
	require.NotNil(t, closing, "expected a forced close trade")
	assert.Equal(t, "max_holding_days", closing.Reason)
	// Entered on the first date, held exactly 5 trading days.
	assert.True(t, closing.Date.Equal(dates[5]), "closed on %s, want %s", closing.Date, dates[5])
}

func TestEngineForcesStopLossOnBreachDate(t *testing.T) {
	dates := weekdays(8)
	// 25% single-date drop against a 20% per-position loss limit.
	src := flatSource(dates, "AAA", map[int]string{2: "75"})

	cfg := testConfig(50, 0.5)
	cfg.Risk.MaxPositionLossPct = 0.20

	eng, err := New(Options{Config: cfg, Source: src})
	require.NoError(t, err)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	var closing *contracts.Trade
	for i := range result.Trades {
		if result.Trades[i].Closing {
			closing = &result.Trades[i]
			break
		}
	}
	require.NotNil(t, closing, "expected a forced stop-loss close")
	assert.Equal(t, "stop_loss", closing.Reason)
	assert.True(t, closing.Date.Equal(dates[2]), "breach must close on the date it is observed")

	found := false
	for _, w := range result.Warnings {
		if w.Code == "forced_stop_loss" {
			found = true
		}
	}
	assert.True(t, found, "expected forced_stop_loss warning")
}

func TestEnginePortfolioStopFlattensAndHalts(t *testing.T) {
	dates := weekdays(8)
	src := flatSource(dates, "AAA", map[int]string{2: "85"})

	cfg := testConfig(50, 1.0)
	cfg.Risk.MaxPortfolioLossPct = 0.10

	eng, err := New(Options{Config: cfg, Source: src})
	require.NoError(t, err)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	var stop *contracts.Trade
	for i := range result.Trades {
		tr := result.Trades[i]
		if tr.Closing && tr.Reason == "portfolio_stop_loss" {
			stop = &result.Trades[i]
			break
		}
	}
	require.NotNil(t, stop, "expected portfolio stop close")
	assert.True(t, stop.Date.Equal(dates[2]))

	// No re-entry on the breach date itself.
	for _, tr := range result.Trades {
		if !tr.Closing && tr.Date.Equal(dates[2]) {
			t.Errorf("unexpected entry on halted date: %+v", tr)
		}
	}
}

func TestEnginePortfolioStopHaltsOneDateOnly(t *testing.T) {
	dates := weekdays(10)
	// A transient 15% dip breaches the 10% portfolio stop, then the price
	// fully recovers from the next date on.
	src := flatSource(dates, "AAA", map[int]string{2: "85", 3: "100"})

	cfg := testConfig(50, 1.0)
	cfg.Risk.MaxPortfolioLossPct = 0.10

	eng, err := New(Options{Config: cfg, Source: src})
	require.NoError(t, err)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	var stopDate time.Time
	for _, tr := range result.Trades {
		if tr.Closing && tr.Reason == "portfolio_stop_loss" {
			stopDate = tr.Date
		}
	}
	require.False(t, stopDate.IsZero(), "expected portfolio stop close")
	assert.True(t, stopDate.Equal(dates[2]))

	// The high-water mark rebases on the breach, so the halt covers the
	// breach date only and the strategy re-enters afterwards.
	reentered := false
	stopCloses := 0
	for _, tr := range result.Trades {
		if !tr.Closing && tr.Date.After(stopDate) {
			reentered = true
		}
		if tr.Closing && tr.Reason == "portfolio_stop_loss" {
			stopCloses++
		}
	}
	assert.True(t, reentered, "run must not sit in cash for the rest of the calendar")
	assert.Equal(t, 1, stopCloses, "a single breach episode fires the stop once")
}

func TestEngineDeterministicReplay(t *testing.T) {
	dates := weekdays(15)
	closes := map[int]string{3: "104", 6: "97", 9: "101", 12: "108"}

	run := func() *contracts.BacktestResult {
		eng, err := New(Options{
			Config: testConfig(4, 0.8),
			Source: flatSource(dates, "AAA", closes),
		})
		require.NoError(t, err)
		result, err := eng.Run(context.Background())
		require.NoError(t, err)
		return result
	}

	a, b := run(), run()
	assert.Equal(t, a.ConfigHash, b.ConfigHash)
	require.Equal(t, len(a.Trades), len(b.Trades))
	for i := range a.Trades {
		assert.True(t, a.Trades[i].Amount.Equal(b.Trades[i].Amount), "trade %d differs", i)
		assert.Equal(t, a.Trades[i].Reason, b.Trades[i].Reason)
	}
	require.Equal(t, len(a.EquityCurve), len(b.EquityCurve))
	for i := range a.EquityCurve {
		assert.True(t, a.EquityCurve[i].TotalValue.Equal(b.EquityCurve[i].TotalValue), "equity %d differs", i)
	}
	assert.True(t, a.FinalValue.Equal(b.FinalValue))
}

func TestEngineAbsentBarCarriesPositionOver(t *testing.T) {
	dates := weekdays(6)
	src := marketdata.NewMemorySource(dates)
	for i, d := range dates {
		if i == 2 {
			continue // halted instrument: no bar this date
		}
		c := decimal.RequireFromString("100")
		src.Add(contracts.Bar{Instrument: "AAA", Date: d, Open: c, High: c, Low: c, Close: c, Volume: 1000})
	}

	eng, err := New(Options{Config: testConfig(50, 1.0), Source: src})
	require.NoError(t, err)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	// The position is carried over the gap: nothing traded on the absent
	// date and the equity point is unchanged.
	for _, tr := range result.Trades {
		assert.False(t, tr.Date.Equal(dates[2]), "no trades on an untradeable date")
	}
	assert.True(t, result.EquityCurve[2].TotalValue.Equal(result.EquityCurve[1].TotalValue))
	assert.Equal(t, len(dates), result.TradingDays)
}

func TestEngineEmptySelectionIsNoOp(t *testing.T) {
	dates := weekdays(5)
	src := flatSource(dates, "AAA", nil)

	reg := strategy.DefaultRegistry()
	reg.RegisterSelector("none", func(strategy.Params, strategy.Deps) (strategy.Selector, error) {
		return selectorFunc(func(context.Context, time.Time, []contracts.Instrument, *marketdata.View) ([]contracts.Instrument, error) {
			return nil, nil
		}), nil
	})
	cfg := testConfig(5, 1.0)
	cfg.Selector.ID = "none"

	eng, err := New(Options{Config: cfg, Source: src, Registry: reg})
	require.NoError(t, err)

	result, err := eng.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, result.Trades)
	assert.True(t, result.FinalValue.Equal(result.InitialCapital))
}

func TestEngineRejectsUnknownStage(t *testing.T) {
	cfg := testConfig(5, 1.0)
	cfg.Entry.ID = "does_not_exist"

	_, err := New(Options{
		Config: cfg,
		Source: flatSource(weekdays(3), "AAA", nil),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entry")
}

func TestEngineHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	eng, err := New(Options{
		Config: testConfig(5, 1.0),
		Source: flatSource(weekdays(5), "AAA", nil),
	})
	require.NoError(t, err)

	_, err = eng.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRebalanceDates(t *testing.T) {
	dates := weekdays(12)

	daily := rebalanceDates(dates, "daily")
	for i := range daily {
		assert.True(t, daily[i])
	}

	weekly := rebalanceDates(dates, "weekly")
	assert.True(t, weekly[0])
	count := 0
	for _, m := range weekly {
		if m {
			count++
		}
	}
	// 12 weekdays from 2024-01-02 span three ISO weeks.
	assert.Equal(t, 3, count)
}

// selectorFunc adapts a function to the Selector interface.
type selectorFunc func(context.Context, time.Time, []contracts.Instrument, *marketdata.View) ([]contracts.Instrument, error)

func (f selectorFunc) Select(ctx context.Context, date time.Time, universe []contracts.Instrument, data *marketdata.View) ([]contracts.Instrument, error) {
	return f(ctx, date, universe, data)
}
