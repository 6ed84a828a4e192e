package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helios-quant/backend/internal/runconfig"
	"github.com/helios-quant/backend/internal/strategy"
)

// validateCmd checks a run configuration without touching any backend.
var validateCmd = &cobra.Command{
	Use:   "validate [config.yaml]",
	Short: "Validate a run configuration and print its hash",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, raw, err := runconfig.Load(args[0])
	if err != nil {
		return err
	}

	// Stage ids must resolve even though no run happens. The model entry
	// is skipped: it needs a live prediction adapter to construct.
	registry := strategy.DefaultRegistry()
	deps := strategy.Deps{}
	if _, err := registry.Selector(cfg.Selector.ID, strategy.Params(cfg.Selector.Params), deps); err != nil {
		return err
	}
	if cfg.Entry.ID != "model" {
		if _, err := registry.Entry(cfg.Entry.ID, strategy.Params(cfg.Entry.Params), deps); err != nil {
			return err
		}
	}
	for _, exit := range cfg.Exits {
		if _, err := registry.Exit(exit.ID, strategy.Params(exit.Params), deps); err != nil {
			return err
		}
	}

	hash, err := runconfig.Hash(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("✅ %s is valid\n", args[0])
	fmt.Printf("  strategy_id : %s\n", cfg.Meta.StrategyID)
	fmt.Printf("  config_hash : %s\n", hash)
	fmt.Printf("  yaml size   : %d bytes\n", len(raw))
	return nil
}
