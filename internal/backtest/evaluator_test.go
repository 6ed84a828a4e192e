package backtest

import (
	"context"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helios-quant/backend/internal/contracts"
	"github.com/helios-quant/backend/internal/forecast"
	"github.com/helios-quant/backend/internal/ledger"
	"github.com/helios-quant/backend/internal/marketdata"
)

func curveOf(totals ...string) []contracts.EquityCurvePoint {
	dates := weekdays(len(totals))
	curve := make([]contracts.EquityCurvePoint, len(totals))
	for i, v := range totals {
		total := decimal.RequireFromString(v)
		curve[i] = contracts.EquityCurvePoint{
			Date:       dates[i],
			Cash:       total,
			TotalValue: total,
		}
	}
	return curve
}

func TestEvaluateTotalAndAnnualizedReturn(t *testing.T) {
	metrics := Evaluate(context.Background(), EvalInputs{
		Curve: curveOf("100", "101", "102", "103", "104", "105"),
	})

	assert.InDelta(t, 0.05, metrics["total_return"], 1e-9)
	// 5 daily returns over a 252-day base: (1.05)^(252/5) - 1.
	want := math.Pow(1.05, 252.0/5.0) - 1
	assert.InDelta(t, want, metrics["annualized_return"], 1e-9)
	assert.Zero(t, metrics["max_drawdown"])
}

func TestEvaluateMaxDrawdown(t *testing.T) {
	metrics := Evaluate(context.Background(), EvalInputs{
		Curve: curveOf("100", "110", "99", "101", "105"),
	})

	assert.InDelta(t, 11.0/110.0, metrics["max_drawdown"], 1e-9)
	// Equity never reclaims the 110 peak, so the underwater span runs from
	// that peak to the end of the curve.
	assert.InDelta(t, 3, metrics["max_drawdown_days"], 1e-9)
}

func TestEvaluateDrawdownDurationTracksLongestUnderwaterSpan(t *testing.T) {
	// The deepest drawdown (-20%) recovers in two days; a later, shallower
	// one stays underwater for five. Duration reports the long span.
	metrics := Evaluate(context.Background(), EvalInputs{
		Curve: curveOf("100", "80", "101", "100", "99", "98", "97", "102"),
	})

	assert.InDelta(t, 0.20, metrics["max_drawdown"], 1e-9)
	assert.InDelta(t, 5, metrics["max_drawdown_days"], 1e-9)
}

func TestEvaluateWinRate(t *testing.T) {
	metrics := Evaluate(context.Background(), EvalInputs{
		Curve: curveOf("100", "101", "102"),
		Stats: ledger.Stats{Closed: 4, Wins: 3, Losses: 1},
	})
	assert.InDelta(t, 0.75, metrics["win_rate"], 1e-9)
}

func TestEvaluateBenchmarkBeta(t *testing.T) {
	// Portfolio moves exactly 2x the benchmark: beta 2, alpha ~0.
	bench := []float64{100, 101, 99.99, 101.5, 100.8, 102}
	totals := make([]string, len(bench))
	cur := 100.0
	totals[0] = "100"
	for i := 1; i < len(bench); i++ {
		r := bench[i]/bench[i-1] - 1
		cur *= 1 + 2*r
		totals[i] = decimal.NewFromFloat(cur).String()
	}

	metrics := Evaluate(context.Background(), EvalInputs{
		Curve:     curveOf(totals...),
		Benchmark: bench,
	})

	require.Contains(t, metrics, "beta")
	assert.InDelta(t, 2.0, metrics["beta"], 1e-6)
	assert.InDelta(t, 0.0, metrics["alpha"], 1e-6)
}

func TestEvaluateAlphaOnExcessReturns(t *testing.T) {
	// With the portfolio doubling every benchmark move, a raw-return fit
	// would put the intercept at zero. On excess returns the intercept is
	// the daily risk-free rate, annualized back to RiskFreeRate.
	rf := 0.0252 // 0.0001 per trading day
	bench := []float64{100, 101, 99.99, 101.5, 100.8, 102}
	totals := make([]string, len(bench))
	cur := 100.0
	totals[0] = "100"
	for i := 1; i < len(bench); i++ {
		r := bench[i]/bench[i-1] - 1
		cur *= 1 + 2*r
		totals[i] = decimal.NewFromFloat(cur).String()
	}

	metrics := Evaluate(context.Background(), EvalInputs{
		Curve:        curveOf(totals...),
		Benchmark:    bench,
		RiskFreeRate: rf,
	})

	require.Contains(t, metrics, "beta")
	assert.InDelta(t, 2.0, metrics["beta"], 1e-6)
	assert.InDelta(t, rf, metrics["alpha"], 1e-6)
}

func TestEvaluateSkipsBenchmarkWithGaps(t *testing.T) {
	metrics := Evaluate(context.Background(), EvalInputs{
		Curve:     curveOf("100", "101", "102"),
		Benchmark: []float64{100, math.NaN(), 102},
	})
	_, ok := metrics["beta"]
	assert.False(t, ok, "too few clean benchmark pairs for a fit")
}

func TestEvaluateInformationCoefficient(t *testing.T) {
	dates := weekdays(3)
	src := marketdata.NewMemorySource(dates)
	add := func(inst contracts.Instrument, closes []string) {
		for i, c := range closes {
			v := decimal.RequireFromString(c)
			src.Add(contracts.Bar{Instrument: inst, Date: dates[i], Open: v, High: v, Low: v, Close: v, Volume: 1000})
		}
	}
	// Forward returns on date 0: AAA +10%, BBB +5%, CCC -5%.
	add("AAA", []string{"100", "110", "110"})
	add("BBB", []string{"100", "105", "105"})
	add("CCC", []string{"100", "95", "95"})

	view := marketdata.NewView(src, dates)
	samples := []forecast.Sample{{
		Date: dates[0],
		Scores: map[contracts.Instrument]float64{
			"AAA": 0.9, "BBB": 0.5, "CCC": -0.4,
		},
	}}

	metrics := Evaluate(context.Background(), EvalInputs{
		Curve:   curveOf("100", "101", "102"),
		Samples: samples,
		View:    view,
	})

	require.Contains(t, metrics, "ic_mean")
	// Scores rank the realized returns perfectly.
	assert.Greater(t, metrics["ic_mean"], 0.95)
	assert.InDelta(t, 1.0, metrics["rank_ic_mean"], 1e-9)
	assert.InDelta(t, 1.0, metrics["ic_win_rate"], 1e-9)
}

func TestEvaluateVaRPresent(t *testing.T) {
	metrics := Evaluate(context.Background(), EvalInputs{
		Curve: curveOf("100", "98", "101", "99", "103", "100", "104"),
	})
	require.Contains(t, metrics, "var_95")
	require.Contains(t, metrics, "cvar_95")
	assert.GreaterOrEqual(t, metrics["cvar_95"], metrics["var_95"])
}

func TestRanksWithTies(t *testing.T) {
	got := ranks([]float64{3, 1, 3, 2})
	// Value 1 -> rank 1, value 2 -> rank 2, the two 3s share (3+4)/2.
	assert.Equal(t, []float64{3.5, 1, 3.5, 2}, got)
}

func TestEvaluateEmptyCurve(t *testing.T) {
	metrics := Evaluate(context.Background(), EvalInputs{})
	assert.Empty(t, metrics)
}
