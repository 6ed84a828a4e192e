package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/helios-quant/backend/internal/contracts"
	"github.com/helios-quant/backend/internal/runconfig"
)

// ═══════════════════════════════════════════════════════════
// Common result formatting
// Every command prints runs and results the same way.
// ═══════════════════════════════════════════════════════════

const separatorLine = "───────────────────────────────────────────────────────────"

// percentMetrics are rendered as percentages; everything else prints raw.
var percentMetrics = map[string]bool{
	"total_return":      true,
	"annualized_return": true,
	"volatility":        true,
	"max_drawdown":      true,
	"win_rate":          true,
	"var_95":            true,
	"cvar_95":           true,
	"alpha":             true,
	"ic_win_rate":       true,
}

func printRunHeader(cfg *runconfig.Config) {
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Printf("  Backtest: %s\n", cfg.Meta.StrategyID)
	fmt.Println(separatorLine)
	fmt.Printf("  Period    : %s ~ %s (%s rebalance)\n",
		cfg.Calendar.StartDate, cfg.Calendar.EndDate, cfg.Calendar.RebalanceFrequency)
	fmt.Printf("  Capital   : %s\n", cfg.Capital.InitialCapital)
	fmt.Printf("  Universe  : %d instruments\n", len(cfg.Universe))
	fmt.Printf("  Pipeline  : %s → %s → [%s]\n",
		cfg.Selector.ID, cfg.Entry.ID, exitIDs(cfg))
	fmt.Println(separatorLine)
	fmt.Println()
	fmt.Println("🚀 Starting backtest...")
}

func exitIDs(cfg *runconfig.Config) string {
	ids := make([]string, len(cfg.Exits))
	for i, e := range cfg.Exits {
		ids[i] = e.ID
	}
	return strings.Join(ids, ", ")
}

func printResult(result *contracts.BacktestResult) {
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════")
	fmt.Println("  Results")
	fmt.Println(separatorLine)
	fmt.Printf("  Config    : %s\n", result.ConfigHash[:12])
	fmt.Printf("  Days      : %d trading days, %d rebalances\n", result.TradingDays, result.RebalanceCount)
	fmt.Printf("  Capital   : %s → %s\n", result.InitialCapital.StringFixed(2), result.FinalValue.StringFixed(2))
	fmt.Printf("  Trades    : %d (%d warnings)\n", len(result.Trades), len(result.Warnings))
	fmt.Println(separatorLine)

	names := make([]string, 0, len(result.Metrics))
	for name := range result.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-20s %s\n", name, formatMetric(name, result.Metrics[name]))
	}

	fmt.Println(separatorLine)
	fmt.Printf("✅ Completed in %s\n", result.Elapsed)
	fmt.Println()
}

func formatMetric(name string, v float64) string {
	if percentMetrics[name] {
		return fmt.Sprintf("%.2f%%", v*100)
	}
	return fmt.Sprintf("%.4f", v)
}
