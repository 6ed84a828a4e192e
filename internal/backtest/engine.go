// Package backtest contains the orchestrator that drives one simulation
// run date by date, and the evaluator that turns the finished equity
// curve and trade log into performance metrics.
package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/helios-quant/backend/internal/contracts"
	"github.com/helios-quant/backend/internal/forecast"
	"github.com/helios-quant/backend/internal/ledger"
	"github.com/helios-quant/backend/internal/marketdata"
	"github.com/helios-quant/backend/internal/risk"
	"github.com/helios-quant/backend/internal/runconfig"
	"github.com/helios-quant/backend/internal/strategy"
	"github.com/helios-quant/backend/pkg/logger"
)

// factorCacheSize bounds the per-run factor cache.
const factorCacheSize = 4096

// Options wires an engine together. Config, Source and Registry are
// required; Predictor is only needed when the configured entry is
// model-driven.
type Options struct {
	Config    *runconfig.Config
	Source    marketdata.Source
	Registry  *strategy.Registry
	Predictor forecast.Predictor
	Logger    *logger.Logger
}

// Engine runs one backtest from assembled parts. The date loop is
// strictly sequential; all concurrency lives below the Predictor
// interface. An Engine is single-use: Run owns all mutable state for
// exactly one pass over the calendar.
type Engine struct {
	cfg        *runconfig.Config
	configHash string
	source     marketdata.Source
	selector   strategy.Selector
	entry      strategy.Entry
	exit       strategy.Exit
	riskMgr    *risk.Manager
	led        *ledger.Ledger
	recorder   *forecast.Recorder
	sectors    map[contracts.Instrument]string
	universe   []contracts.Instrument
	log        *logger.Logger

	warnings []contracts.Warning
}

// New assembles an engine from the run configuration. Unknown stage ids,
// malformed limits and missing dependencies are configuration errors: the
// run never starts.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("backtest: config is required")
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("backtest: market data source is required")
	}
	if err := runconfig.Validate(cfg); err != nil {
		return nil, err
	}
	hash, err := runconfig.Hash(cfg)
	if err != nil {
		return nil, fmt.Errorf("backtest: hash config: %w", err)
	}

	registry := opts.Registry
	if registry == nil {
		registry = strategy.DefaultRegistry()
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}

	var recorder *forecast.Recorder
	var predictor forecast.Predictor
	if opts.Predictor != nil {
		recorder = forecast.NewRecorder(opts.Predictor)
		predictor = recorder
	}

	deps := strategy.Deps{
		Predictor: predictor,
		Factors:   marketdata.NewFactorCache(factorCacheSize),
	}

	selector, err := registry.Selector(cfg.Selector.ID, strategy.Params(cfg.Selector.Params), deps)
	if err != nil {
		return nil, err
	}
	entry, err := registry.Entry(cfg.Entry.ID, strategy.Params(cfg.Entry.Params), deps)
	if err != nil {
		return nil, err
	}
	exits := make([]strategy.Exit, 0, len(cfg.Exits))
	for _, ec := range cfg.Exits {
		exit, err := registry.Exit(ec.ID, strategy.Params(ec.Params), deps)
		if err != nil {
			return nil, err
		}
		exits = append(exits, exit)
	}
	composite, err := strategy.NewComposite(exits, strategy.CompositeMode(cfg.ExitMode))
	if err != nil {
		return nil, err
	}

	sectors := cfg.SectorMap()
	riskMgr, err := risk.NewManager(cfg.Risk, sectors, log)
	if err != nil {
		return nil, err
	}

	costs := ledger.NewCostModel(
		cfg.Costs.CommissionRate,
		cfg.Costs.MinCommission,
		cfg.Costs.StampTaxRate,
		cfg.Costs.SlippagePct,
	)

	return &Engine{
		cfg:        cfg,
		configHash: hash,
		source:     opts.Source,
		selector:   selector,
		entry:      entry,
		exit:       composite,
		riskMgr:    riskMgr,
		led:        ledger.New(cfg.InitialCapital(), costs, log),
		recorder:   recorder,
		sectors:    sectors,
		universe:   cfg.UniverseInstruments(),
		log:        log.WithField("strategy_id", cfg.Meta.StrategyID),
	}, nil
}

// Run executes the full simulation and returns the result. Cancellation
// is honored at date boundaries only, so the ledger is never left in a
// half-executed date.
func (e *Engine) Run(ctx context.Context) (*contracts.BacktestResult, error) {
	started := time.Now()

	dates, err := e.source.TradingDates(ctx, e.cfg.Start(), e.cfg.End())
	if err != nil {
		return nil, fmt.Errorf("backtest: resolve calendar: %w", err)
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("backtest: no trading dates between %s and %s",
			e.cfg.Calendar.StartDate, e.cfg.Calendar.EndDate)
	}

	view := marketdata.NewView(e.source, dates)
	rebalance := rebalanceDates(dates, e.cfg.Calendar.RebalanceFrequency)
	benchmark := e.cfg.BenchmarkInstrument()

	curve := make([]contracts.EquityCurvePoint, 0, len(dates))
	benchCloses := make([]float64, 0, len(dates))
	rebalanceCount := 0

	for i, date := range dates {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest: canceled on %s: %w", date.Format("2006-01-02"), err)
		}

		prices, err := e.collectPrices(ctx, view, date)
		if err != nil {
			return nil, err
		}

		// Reprice the book at today's closes before any decision; risk
		// checks and sizing see current values, not yesterday's.
		e.led.MarkToMarket(prices, date)
		total := e.led.TotalValue()

		exitSet, halted := e.scanRisk(view, prices, date, total)

		if rebalance[i] {
			rebalanceCount++
			strategyExits, err := e.exit.GenerateExits(ctx, e.led.Positions(), date, view)
			if err != nil {
				return nil, fmt.Errorf("backtest: exits on %s: %w", date.Format("2006-01-02"), err)
			}
			// Forced exits were merged first and take precedence.
			exitSet.Merge(strategyExits)
		}

		closes := make(map[contracts.Instrument]string, len(exitSet.Close)+len(exitSet.Reverse))
		for inst, reason := range exitSet.Close {
			closes[inst] = reason
		}
		for inst, sig := range exitSet.Reverse {
			closes[inst] = sig.Reason
		}
		e.warn(e.led.ClosePositions(closes, prices, date)...)

		if rebalance[i] && !halted {
			if err := e.rebalance(ctx, view, prices, exitSet, date); err != nil {
				return nil, err
			}
		}

		point := e.led.MarkToMarket(prices, date)
		curve = append(curve, point)
		benchCloses = append(benchCloses, e.benchmarkClose(ctx, view, benchmark, date))
	}

	metrics := Evaluate(ctx, EvalInputs{
		Curve:        curve,
		Stats:        e.led.Stats(),
		Benchmark:    benchCloses,
		Samples:      e.samples(),
		View:         view,
		RiskFreeRate: e.cfg.Capital.RiskFreeRate,
	})

	result := &contracts.BacktestResult{
		StrategyID:     e.cfg.Meta.StrategyID,
		ConfigHash:     e.configHash,
		StartDate:      dates[0],
		EndDate:        dates[len(dates)-1],
		TradingDays:    len(dates),
		RebalanceCount: rebalanceCount,
		InitialCapital: e.cfg.InitialCapital(),
		FinalValue:     curve[len(curve)-1].TotalValue,
		EquityCurve:    curve,
		Trades:         e.led.Trades(),
		Metrics:        metrics,
		Warnings:       e.warnings,
		Elapsed:        time.Since(started),
		CreatedAt:      time.Now(),
	}

	e.log.WithFields(map[string]interface{}{
		"trading_days": result.TradingDays,
		"trades":       len(result.Trades),
		"final_value":  result.FinalValue.String(),
		"elapsed":      result.Elapsed.String(),
	}).Info("backtest finished")

	return result, nil
}

// scanRisk runs the continuous per-position checks and the portfolio
// drawdown stop. The returned set is seeded with forced exits so they win
// over anything the strategy proposes for the same instrument. On a
// portfolio-level breach the whole book is flattened and halted reports
// true, which suppresses new entries for the date. The high-water mark
// rebases on the breach, so the halt covers this date only and the run
// re-enters afterwards.
func (e *Engine) scanRisk(view *marketdata.View, prices map[contracts.Instrument]decimal.Decimal, date time.Time, total decimal.Decimal) (contracts.ExitSet, bool) {
	positions := e.led.Positions()

	ages := make(map[contracts.Instrument]int, len(positions))
	for inst, pos := range positions {
		ages[inst] = view.TradingDaysBetween(pos.EntryDate, date)
	}

	forced, warnings := e.riskMgr.ScanPositions(positions, prices, ages, date)
	e.warn(warnings...)

	breached, dd := e.riskMgr.CheckDrawdown(total)
	if breached && len(positions) > 0 {
		for _, inst := range contracts.SortedInstruments(positions) {
			if _, already := forced.Close[inst]; !already {
				forced.Close[inst] = "portfolio_stop_loss"
			}
		}
		e.warn(contracts.Warning{
			Date:    date,
			Code:    "forced_portfolio_stop",
			Message: fmt.Sprintf("drawdown %.4f breaches max_portfolio_loss_pct %.4f, flattening book", dd, e.riskMgr.Limits().MaxPortfolioLossPct),
		})
	}
	return forced, breached
}

// rebalance runs Selector and Entry, folds in reversal signals, gates
// everything through the pre-trade risk checks and hands the survivors to
// the ledger. Reversed positions face the same date's checks as fresh
// entries.
func (e *Engine) rebalance(ctx context.Context, view *marketdata.View, prices map[contracts.Instrument]decimal.Decimal, exitSet contracts.ExitSet, date time.Time) error {
	candidates, err := e.selector.Select(ctx, date, e.universe, view)
	if err != nil {
		return fmt.Errorf("backtest: select on %s: %w", date.Format("2006-01-02"), err)
	}

	signals := make(map[contracts.Instrument]contracts.Signal)
	if len(candidates) > 0 {
		signals, err = e.entry.GenerateSignals(ctx, candidates, date, view)
		if err != nil {
			return fmt.Errorf("backtest: entries on %s: %w", date.Format("2006-01-02"), err)
		}
	}

	// Positions already held in the signaled direction are carried, not
	// pyramided: re-signaling an open position is a no-op.
	for inst, sig := range signals {
		if pos, held := e.led.Position(inst); held && pos.Direction == sig.Direction {
			delete(signals, inst)
		}
	}

	// A reversal replaces any entry signal for the same instrument: the
	// exit stage already decided the new direction.
	for inst, sig := range exitSet.Reverse {
		if _, held := e.led.Position(inst); held {
			// The closing leg was deferred (absent bar); opening the
			// opposite side now would double up.
			continue
		}
		signals[inst] = sig
	}
	if len(signals) == 0 {
		return nil
	}

	total := e.led.TotalValue()
	accepted, warnings := e.riskMgr.FilterSignals(signals, e.led.PositionWeights(total), date)
	e.warn(warnings...)

	ordered := make([]contracts.Signal, 0, len(accepted))
	for _, inst := range contracts.SortedInstruments(accepted) {
		ordered = append(ordered, accepted[inst])
	}
	e.warn(e.led.OpenPositions(ordered, prices, e.sectors, date, total)...)
	return nil
}

// collectPrices gathers today's closes for the universe plus any held
// instrument. An absent bar means untradeable today: no entry, no exit,
// no remark.
func (e *Engine) collectPrices(ctx context.Context, view *marketdata.View, date time.Time) (map[contracts.Instrument]decimal.Decimal, error) {
	prices := make(map[contracts.Instrument]decimal.Decimal, len(e.universe))
	for _, inst := range e.universe {
		bar, ok, err := view.Bar(ctx, inst, date)
		if err != nil {
			return nil, fmt.Errorf("backtest: bar %s %s: %w", inst, date.Format("2006-01-02"), err)
		}
		if ok {
			prices[inst] = bar.Close
		}
	}
	for inst := range e.led.Positions() {
		if _, done := prices[inst]; done {
			continue
		}
		bar, ok, err := view.Bar(ctx, inst, date)
		if err != nil {
			return nil, fmt.Errorf("backtest: bar %s %s: %w", inst, date.Format("2006-01-02"), err)
		}
		if ok {
			prices[inst] = bar.Close
		}
	}
	return prices, nil
}

func (e *Engine) benchmarkClose(ctx context.Context, view *marketdata.View, benchmark contracts.Instrument, date time.Time) float64 {
	if benchmark == "" {
		return math.NaN()
	}
	bar, ok, err := view.Bar(ctx, benchmark, date)
	if err != nil || !ok {
		return math.NaN()
	}
	c, _ := bar.Close.Float64()
	return c
}

func (e *Engine) samples() []forecast.Sample {
	if e.recorder == nil {
		return nil
	}
	return e.recorder.Samples()
}

func (e *Engine) warn(ws ...contracts.Warning) {
	e.warnings = append(e.warnings, ws...)
}

// rebalanceDates marks which calendar positions run the full pipeline.
// Weekly rebalances on the first trading date of each ISO week, monthly
// on the first trading date of each month. The first date always
// rebalances.
func rebalanceDates(dates []time.Time, frequency string) []bool {
	marks := make([]bool, len(dates))
	for i, date := range dates {
		switch frequency {
		case "weekly":
			if i == 0 {
				marks[i] = true
				break
			}
			py, pw := dates[i-1].ISOWeek()
			cy, cw := date.ISOWeek()
			marks[i] = py != cy || pw != cw
		case "monthly":
			marks[i] = i == 0 || dates[i-1].Month() != date.Month() || dates[i-1].Year() != date.Year()
		default: // daily
			marks[i] = true
		}
	}
	return marks
}
