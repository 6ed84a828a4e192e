package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/helios-quant/backend/internal/backtest"
	"github.com/helios-quant/backend/internal/forecast"
	"github.com/helios-quant/backend/internal/marketdata"
	"github.com/helios-quant/backend/internal/runconfig"
	"github.com/helios-quant/backend/internal/strategy"
	"github.com/helios-quant/backend/pkg/config"
	"github.com/helios-quant/backend/pkg/database"
	"github.com/helios-quant/backend/pkg/logger"
	"github.com/helios-quant/backend/pkg/redis"
)

// backtestCmd represents the backtest command group
var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Strategy backtesting",
	Long: `Simulate a configured strategy over historical data.

The run reports:
- total and annualized return
- risk metrics (Sharpe, Sortino, max drawdown, VaR)
- win rate and trade log
- prediction quality (IC) when a model entry is configured

Example:
  go run ./cmd/helios backtest run --config config/strategies/momentum.yaml
  go run ./cmd/helios backtest run --config momentum.yaml --from 2023-01-01 --to 2023-12-31`,
}

var (
	backtestRunCmd = &cobra.Command{
		Use:   "run",
		Short: "Run a backtest from a YAML run configuration",
		RunE:  runBacktest,
	}

	// Flags
	backtestConfig  string
	backtestFrom    string
	backtestTo      string
	backtestCapital string
	backtestFreq    string
)

func init() {
	rootCmd.AddCommand(backtestCmd)
	backtestCmd.AddCommand(backtestRunCmd)

	backtestRunCmd.Flags().StringVar(&backtestConfig, "config", "", "run configuration YAML (required)")
	backtestRunCmd.Flags().StringVar(&backtestFrom, "from", "", "override start date (YYYY-MM-DD)")
	backtestRunCmd.Flags().StringVar(&backtestTo, "to", "", "override end date (YYYY-MM-DD)")
	backtestRunCmd.Flags().StringVar(&backtestCapital, "capital", "", "override initial capital")
	backtestRunCmd.Flags().StringVar(&backtestFreq, "rebalance", "", "override rebalance frequency (daily|weekly|monthly)")

	backtestRunCmd.MarkFlagRequired("config")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	runCfg, _, err := runconfig.Load(backtestConfig)
	if err != nil {
		return fmt.Errorf("load run config: %w", err)
	}
	applyOverrides(runCfg)
	if err := runconfig.Validate(runCfg); err != nil {
		return err
	}

	appCfg, log, err := loadEnvironment()
	if err != nil {
		return fmt.Errorf("load environment: %w", err)
	}

	db, err := database.New(appCfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	predictor, cleanup, err := buildPredictor(appCfg, runCfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	engine, err := backtest.New(backtest.Options{
		Config:    runCfg,
		Source:    marketdata.NewPostgresSource(db.Pool),
		Registry:  strategy.DefaultRegistry(),
		Predictor: predictor,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printRunHeader(runCfg)
	result, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	printResult(result)
	return nil
}

func applyOverrides(cfg *runconfig.Config) {
	if backtestFrom != "" {
		cfg.Calendar.StartDate = backtestFrom
	}
	if backtestTo != "" {
		cfg.Calendar.EndDate = backtestTo
	}
	if backtestCapital != "" {
		cfg.Capital.InitialCapital = backtestCapital
	}
	if backtestFreq != "" {
		cfg.Calendar.RebalanceFrequency = backtestFreq
	}
}

// buildPredictor wires the model-server prediction adapter when the run
// uses a model-driven entry. Redis caching is attached when enabled.
func buildPredictor(appCfg *config.Config, runCfg *runconfig.Config, log *logger.Logger) (forecast.Predictor, func(), error) {
	if runCfg.Entry.ID != "model" {
		return nil, func() {}, nil
	}
	if appCfg.ModelServer.BaseURL == "" {
		return nil, func() {}, fmt.Errorf("entry %q needs MODEL_SERVER_URL", runCfg.Entry.ID)
	}

	cleanup := func() {}
	var cache *redis.Cache
	if appCfg.Redis.Enabled {
		client, err := redis.New(appCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		cache = redis.NewCache(client, "helios")
		cleanup = func() { _ = client.Close() }
	}

	http := forecast.NewHTTPPredictor(appCfg.ModelServer, cache, log)
	return forecast.NewPooled(http, 4, 64), cleanup, nil
}
