package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/helios-quant/backend/pkg/config"
	"github.com/helios-quant/backend/pkg/logger"
)

var (
	// Global flags
	envFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "helios",
	Short: "Helios - strategy backtesting and portfolio simulation engine",
	Long: `Helios Unified CLI

Three-layer strategy simulation: selection, entry and exit strategies
composed over a risk-managed decimal ledger.

Usage:
  go run ./cmd/helios [command]

Examples:
  go run ./cmd/helios backtest run --config config/strategies/momentum.yaml
  go run ./cmd/helios schedule --config config/strategies/momentum.yaml`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load (default .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadEnvironment loads process configuration and builds the root logger.
func loadEnvironment() (*config.Config, *logger.Logger, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, nil, err
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	log := logger.New(logger.Options{
		Level:  level,
		Format: cfg.LogFormat,
		Env:    cfg.Env,
	})
	return cfg, log, nil
}
