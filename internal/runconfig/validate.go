package runconfig

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ValidationError is a fatal configuration error. The run never starts.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var rebalanceFrequencies = map[string]bool{
	"daily":   true,
	"weekly":  true,
	"monthly": true,
}

// Validate checks all required constraints. Any violation aborts the run
// before the first trading date.
func Validate(cfg *Config) error {
	if cfg.Meta.StrategyID == "" {
		return ValidationError{"meta.strategy_id", "required"}
	}

	if len(cfg.Universe) == 0 {
		return ValidationError{"universe", "must list at least one instrument"}
	}
	seen := make(map[string]bool, len(cfg.Universe))
	for _, inst := range cfg.Universe {
		if inst == "" {
			return ValidationError{"universe", "instrument ids must be non-empty"}
		}
		if seen[inst] {
			return ValidationError{"universe", fmt.Sprintf("duplicate instrument %q", inst)}
		}
		seen[inst] = true
	}

	start, err := time.Parse(dateLayout, cfg.Calendar.StartDate)
	if err != nil {
		return ValidationError{"calendar.start_date", "must be YYYY-MM-DD"}
	}
	end, err := time.Parse(dateLayout, cfg.Calendar.EndDate)
	if err != nil {
		return ValidationError{"calendar.end_date", "must be YYYY-MM-DD"}
	}
	if !start.Before(end) {
		return ValidationError{"calendar", "start_date must be before end_date"}
	}
	if !rebalanceFrequencies[cfg.Calendar.RebalanceFrequency] {
		return ValidationError{"calendar.rebalance_frequency", "must be daily, weekly or monthly"}
	}

	capital, err := decimal.NewFromString(cfg.Capital.InitialCapital)
	if err != nil {
		return ValidationError{"capital.initial_capital", "must be a decimal number"}
	}
	if capital.Sign() <= 0 {
		return ValidationError{"capital.initial_capital", "must be > 0"}
	}

	if cfg.Costs.CommissionRate < 0 || cfg.Costs.StampTaxRate < 0 ||
		cfg.Costs.SlippagePct < 0 || cfg.Costs.MinCommission < 0 {
		return ValidationError{"costs", "rates must be >= 0"}
	}

	if cfg.Selector.ID == "" {
		return ValidationError{"selector.id", "required"}
	}
	if cfg.Entry.ID == "" {
		return ValidationError{"entry.id", "required"}
	}
	if len(cfg.Exits) == 0 {
		return ValidationError{"exits", "must list at least one exit"}
	}
	for i, exit := range cfg.Exits {
		if exit.ID == "" {
			return ValidationError{fmt.Sprintf("exits[%d].id", i), "required"}
		}
	}
	switch cfg.ExitMode {
	case "", "or", "and":
	default:
		return ValidationError{"exit_mode", "must be or / and"}
	}

	if err := cfg.Risk.Validate(); err != nil {
		return ValidationError{"risk", err.Error()}
	}
	return nil
}
