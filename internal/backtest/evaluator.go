package backtest

import (
	"context"
	"math"
	"sort"

	"github.com/helios-quant/backend/internal/contracts"
	"github.com/helios-quant/backend/internal/forecast"
	"github.com/helios-quant/backend/internal/ledger"
	"github.com/helios-quant/backend/internal/marketdata"
	"github.com/helios-quant/backend/internal/risk"
)

// tradingDaysPerYear is the annualization base.
const tradingDaysPerYear = 252.0

// EvalInputs bundles everything the evaluator reads. Benchmark holds the
// benchmark close per trading date, NaN where the bar was absent or no
// benchmark is configured.
type EvalInputs struct {
	Curve        []contracts.EquityCurvePoint
	Stats        ledger.Stats
	Benchmark    []float64
	Samples      []forecast.Sample
	View         *marketdata.View
	RiskFreeRate float64 // annualized
}

// Evaluate computes the metric set for one finished run. Metrics that
// lack inputs (no benchmark, no predictions, too few points) are omitted
// rather than reported as zero.
func Evaluate(ctx context.Context, in EvalInputs) map[string]float64 {
	metrics := make(map[string]float64)
	if len(in.Curve) < 2 {
		if len(in.Curve) == 1 {
			metrics["total_return"] = 0
		}
		return metrics
	}

	returns := dailyReturns(in.Curve)
	first, _ := in.Curve[0].TotalValue.Float64()
	last, _ := in.Curve[len(in.Curve)-1].TotalValue.Float64()

	totalReturn := 0.0
	if first != 0 {
		totalReturn = last/first - 1
	}
	metrics["total_return"] = totalReturn

	years := float64(len(returns)) / tradingDaysPerYear
	annualized := 0.0
	if years > 0 && totalReturn > -1 {
		annualized = math.Pow(1+totalReturn, 1/years) - 1
	}
	metrics["annualized_return"] = annualized

	vol := stdev(returns) * math.Sqrt(tradingDaysPerYear)
	metrics["volatility"] = vol

	maxDD, ddDays := maxDrawdown(in.Curve)
	metrics["max_drawdown"] = maxDD
	metrics["max_drawdown_days"] = float64(ddDays)

	if vol > 0 {
		metrics["sharpe"] = (annualized - in.RiskFreeRate) / vol
	}
	if downside := downsideDeviation(returns, in.RiskFreeRate/tradingDaysPerYear); downside > 0 {
		metrics["sortino"] = (annualized - in.RiskFreeRate) / downside
	}
	if maxDD > 0 {
		metrics["calmar"] = annualized / maxDD
	}

	if in.Stats.Closed > 0 {
		metrics["win_rate"] = float64(in.Stats.Wins) / float64(in.Stats.Closed)
	}

	v := risk.HistoricalVaR(returns, 0.95)
	metrics["var_95"] = v.VaR
	metrics["cvar_95"] = v.CVaR

	addBenchmarkMetrics(metrics, returns, in.Benchmark, in.RiskFreeRate/tradingDaysPerYear)
	addPredictionMetrics(ctx, metrics, in.Samples, in.View)

	return metrics
}

func dailyReturns(curve []contracts.EquityCurvePoint) []float64 {
	returns := make([]float64, 0, len(curve)-1)
	prev, _ := curve[0].TotalValue.Float64()
	for _, p := range curve[1:] {
		cur, _ := p.TotalValue.Float64()
		if prev != 0 {
			returns = append(returns, cur/prev-1)
		} else {
			returns = append(returns, 0)
		}
		prev = cur
	}
	return returns
}

// maxDrawdown returns the deepest peak-to-trough loss as a positive
// fraction, and the longest underwater span in trading days: from a peak
// until equity makes a new peak. The two can come from different episodes;
// a shallow drawdown that takes months to recover outlasts a sharp one
// that recovers next day. A span still open at the end of the curve
// counts up to the last date.
func maxDrawdown(curve []contracts.EquityCurvePoint) (float64, int) {
	peak, _ := curve[0].TotalValue.Float64()
	peakIdx := 0
	maxDD := 0.0
	maxSpan := 0

	for i, p := range curve {
		v, _ := p.TotalValue.Float64()
		if v > peak {
			if span := i - peakIdx; span > maxSpan {
				maxSpan = span
			}
			peak = v
			peakIdx = i
			continue
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - v) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	if span := len(curve) - 1 - peakIdx; span > maxSpan {
		maxSpan = span
	}
	return maxDD, maxSpan
}

// addBenchmarkMetrics fits strategy excess returns against benchmark
// excess returns by ordinary least squares: beta is the slope, alpha the
// annualized intercept. rfDaily is the per-trading-day risk-free rate
// subtracted from both series. Dates where the benchmark bar was absent
// are dropped from the fit.
func addBenchmarkMetrics(metrics map[string]float64, returns []float64, benchCloses []float64, rfDaily float64) {
	if len(benchCloses) != len(returns)+1 {
		return
	}
	var port, bench []float64
	for i := 1; i < len(benchCloses); i++ {
		prev, cur := benchCloses[i-1], benchCloses[i]
		if math.IsNaN(prev) || math.IsNaN(cur) || prev == 0 {
			continue
		}
		port = append(port, returns[i-1]-rfDaily)
		bench = append(bench, cur/prev-1-rfDaily)
	}
	if len(port) < 3 {
		return
	}

	mb := mean(bench)
	mp := mean(port)
	var cov, varB float64
	for i := range bench {
		cov += (bench[i] - mb) * (port[i] - mp)
		varB += (bench[i] - mb) * (bench[i] - mb)
	}
	if varB == 0 {
		return
	}
	beta := cov / varB
	alpha := mp - beta*mb

	metrics["beta"] = beta
	metrics["alpha"] = alpha * tradingDaysPerYear

	active := make([]float64, len(port))
	for i := range port {
		active[i] = port[i] - bench[i]
	}
	if sd := stdev(active); sd > 0 {
		metrics["information_ratio"] = mean(active) / sd * math.Sqrt(tradingDaysPerYear)
	}
}

// addPredictionMetrics measures forecast skill: the information
// coefficient is the per-date correlation between predicted scores and
// the realized next-trading-date return, averaged across rebalances.
func addPredictionMetrics(ctx context.Context, metrics map[string]float64, samples []forecast.Sample, view *marketdata.View) {
	if len(samples) == 0 || view == nil {
		return
	}

	var ics, rankICs []float64
	for _, sample := range samples {
		preds, realized := realizedPairs(ctx, view, sample)
		if len(preds) < 2 {
			continue
		}
		if ic, ok := pearson(preds, realized); ok {
			ics = append(ics, ic)
		}
		if ric, ok := pearson(ranks(preds), ranks(realized)); ok {
			rankICs = append(rankICs, ric)
		}
	}
	if len(ics) == 0 {
		return
	}

	metrics["ic_mean"] = mean(ics)
	if len(rankICs) > 0 {
		metrics["rank_ic_mean"] = mean(rankICs)
	}
	if sd := stdev(ics); sd > 0 {
		metrics["ic_ir"] = mean(ics) / sd
	}
	positive := 0
	for _, ic := range ics {
		if ic > 0 {
			positive++
		}
	}
	metrics["ic_win_rate"] = float64(positive) / float64(len(ics))
}

// realizedPairs aligns a sample's scores with forward close-to-close
// returns over the next trading date. Instruments missing either bar are
// dropped.
func realizedPairs(ctx context.Context, view *marketdata.View, sample forecast.Sample) ([]float64, []float64) {
	idx, ok := view.DateIndex(sample.Date)
	if !ok || idx+1 >= len(view.Dates()) {
		return nil, nil
	}
	next := view.Dates()[idx+1]

	var preds, realized []float64
	for _, inst := range sortedScoreKeys(sample.Scores) {
		barNow, okNow, err := view.Bar(ctx, inst, sample.Date)
		if err != nil || !okNow {
			continue
		}
		barNext, okNext, err := view.Bar(ctx, inst, next)
		if err != nil || !okNext {
			continue
		}
		now, _ := barNow.Close.Float64()
		fwd, _ := barNext.Close.Float64()
		if now == 0 {
			continue
		}
		preds = append(preds, sample.Scores[inst])
		realized = append(realized, fwd/now-1)
	}
	return preds, realized
}

func sortedScoreKeys(scores map[contracts.Instrument]float64) []contracts.Instrument {
	keys := make([]contracts.Instrument, 0, len(scores))
	for inst := range scores {
		keys = append(keys, inst)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdev is the sample standard deviation.
func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	sum := 0.0
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// downsideDeviation annualizes the deviation of returns below the target.
func downsideDeviation(returns []float64, target float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range returns {
		if r < target {
			d := r - target
			sum += d * d
		}
	}
	return math.Sqrt(sum/float64(len(returns))) * math.Sqrt(tradingDaysPerYear)
}

func pearson(xs, ys []float64) (float64, bool) {
	if len(xs) != len(ys) || len(xs) < 2 {
		return 0, false
	}
	mx, my := mean(xs), mean(ys)
	var cov, vx, vy float64
	for i := range xs {
		cov += (xs[i] - mx) * (ys[i] - my)
		vx += (xs[i] - mx) * (xs[i] - mx)
		vy += (ys[i] - my) * (ys[i] - my)
	}
	if vx == 0 || vy == 0 {
		return 0, false
	}
	return cov / math.Sqrt(vx*vy), true
}

// ranks converts values to average-tie ranks for the Spearman variant.
func ranks(xs []float64) []float64 {
	type indexed struct {
		v float64
		i int
	}
	order := make([]indexed, len(xs))
	for i, v := range xs {
		order[i] = indexed{v, i}
	}
	sort.Slice(order, func(a, b int) bool { return order[a].v < order[b].v })

	out := make([]float64, len(xs))
	for i := 0; i < len(order); {
		j := i
		for j < len(order) && order[j].v == order[i].v {
			j++
		}
		avg := float64(i+j-1)/2 + 1
		for k := i; k < j; k++ {
			out[order[k].i] = avg
		}
		i = j
	}
	return out
}
