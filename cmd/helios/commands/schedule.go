package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/helios-quant/backend/internal/forecast"
	"github.com/helios-quant/backend/internal/marketdata"
	"github.com/helios-quant/backend/internal/runconfig"
	"github.com/helios-quant/backend/internal/scheduler"
	"github.com/helios-quant/backend/internal/scheduler/jobs"
	"github.com/helios-quant/backend/pkg/database"
	"github.com/helios-quant/backend/pkg/redis"
)

// scheduleCmd runs recurring rolling backtests on a cron schedule.
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run recurring rolling backtests",
	Long: `Keep a strategy's rolling backtest fresh on a cron schedule.

Each occurrence reloads the run configuration, rebases the calendar onto
the trailing window and executes a full backtest.

Example:
  go run ./cmd/helios schedule --config momentum.yaml --cron "0 30 17 * * MON-FRI"`,
	RunE: runSchedule,
}

var (
	scheduleConfig   string
	scheduleCron     string
	scheduleLookback int
)

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().StringVar(&scheduleConfig, "config", "", "run configuration YAML (required)")
	scheduleCmd.Flags().StringVar(&scheduleCron, "cron", "0 0 18 * * MON-FRI", "cron schedule (with seconds)")
	scheduleCmd.Flags().IntVar(&scheduleLookback, "lookback", 365, "rolling window in calendar days")

	scheduleCmd.MarkFlagRequired("config")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	runCfg, _, err := runconfig.Load(scheduleConfig)
	if err != nil {
		return fmt.Errorf("load run config: %w", err)
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

	var predictor forecast.Predictor
	if runCfg.Entry.ID == "model" {
		if appCfg.ModelServer.BaseURL == "" {
			return fmt.Errorf("entry %q needs MODEL_SERVER_URL", runCfg.Entry.ID)
		}
		var cache *redis.Cache
		if appCfg.Redis.Enabled {
			client, err := redis.New(appCfg)
			if err != nil {
				return fmt.Errorf("connect redis: %w", err)
			}
			defer client.Close()
			cache = redis.NewCache(client, "helios")
		}
		predictor = forecast.NewPooled(forecast.NewHTTPPredictor(appCfg.ModelServer, cache, log), 4, 64)
	}

	sched := scheduler.New(log)
	job := jobs.NewBacktestJob(
		"rolling_backtest_"+runCfg.Meta.StrategyID,
		scheduleCron,
		scheduleConfig,
		scheduleLookback,
		marketdata.NewPostgresSource(db.Pool),
		predictor,
		log,
	)
	if err := sched.AddJob(job); err != nil {
		return err
	}

	sched.Start()
	fmt.Printf("Scheduler running: %v\n", sched.JobNames())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	sched.Stop()
	return nil
}
