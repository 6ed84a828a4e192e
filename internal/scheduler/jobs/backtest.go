// Package jobs contains the scheduled job implementations.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/helios-quant/backend/internal/backtest"
	"github.com/helios-quant/backend/internal/forecast"
	"github.com/helios-quant/backend/internal/marketdata"
	"github.com/helios-quant/backend/internal/runconfig"
	"github.com/helios-quant/backend/internal/strategy"
	"github.com/helios-quant/backend/pkg/logger"
)

const dateLayout = "2006-01-02"

// BacktestJob re-runs a configured strategy over a rolling window, so a
// nightly schedule keeps an up-to-date read on live performance drift.
type BacktestJob struct {
	name         string
	schedule     string
	configPath   string
	lookbackDays int

	source    marketdata.Source
	predictor forecast.Predictor
	logger    *logger.Logger
}

// NewBacktestJob builds a rolling backtest job. lookbackDays counts
// calendar days back from today for the run window.
func NewBacktestJob(name, schedule, configPath string, lookbackDays int, source marketdata.Source, predictor forecast.Predictor, log *logger.Logger) *BacktestJob {
	if log == nil {
		log = logger.Nop()
	}
	return &BacktestJob{
		name:         name,
		schedule:     schedule,
		configPath:   configPath,
		lookbackDays: lookbackDays,
		source:       source,
		predictor:    predictor,
		logger:       log.WithField("job", name),
	}
}

func (j *BacktestJob) Name() string     { return j.name }
func (j *BacktestJob) Schedule() string { return j.schedule }

// Run loads the config fresh each occurrence, rebases the calendar onto
// the rolling window and executes the backtest.
func (j *BacktestJob) Run(ctx context.Context) error {
	cfg, _, err := runconfig.Load(j.configPath)
	if err != nil {
		return fmt.Errorf("load run config: %w", err)
	}

	now := time.Now().UTC()
	cfg.Calendar.EndDate = now.Format(dateLayout)
	cfg.Calendar.StartDate = now.AddDate(0, 0, -j.lookbackDays).Format(dateLayout)

	engine, err := backtest.New(backtest.Options{
		Config:    cfg,
		Source:    j.source,
		Registry:  strategy.DefaultRegistry(),
		Predictor: j.predictor,
		Logger:    j.logger,
	})
	if err != nil {
		return fmt.Errorf("assemble backtest: %w", err)
	}

	result, err := engine.Run(ctx)
	if err != nil {
		return fmt.Errorf("run backtest: %w", err)
	}

	fields := map[string]interface{}{
		"strategy_id": result.StrategyID,
		"config_hash": result.ConfigHash,
		"final_value": result.FinalValue.String(),
		"trades":      len(result.Trades),
		"warnings":    len(result.Warnings),
	}
	if tr, ok := result.Metric("total_return"); ok {
		fields["total_return"] = tr
	}
	if dd, ok := result.Metric("max_drawdown"); ok {
		fields["max_drawdown"] = dd
	}
	j.logger.WithFields(fields).Info("rolling backtest finished")
	return nil
}
