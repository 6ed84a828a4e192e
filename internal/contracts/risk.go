package contracts

import "fmt"

// RiskLimits is per-run immutable risk configuration. Read-only during a
// run; malformed limits fail validation before any simulation step runs.
type RiskLimits struct {
	// MaxPositionLossPct force-closes a position once its unrealized loss
	// exceeds this fraction, e.g. 0.10 for -10%.
	MaxPositionLossPct float64 `yaml:"max_position_loss_pct" json:"max_position_loss_pct"`

	// MaxPortfolioLossPct force-closes everything once total drawdown from
	// the running high-water mark exceeds this fraction.
	MaxPortfolioLossPct float64 `yaml:"max_portfolio_loss_pct" json:"max_portfolio_loss_pct"`

	// MaxHoldingDays force-closes a position held for more than this many
	// trading days. Zero disables the check.
	MaxHoldingDays int `yaml:"max_holding_days" json:"max_holding_days"`

	// MaxLeverage caps sum(|position weight|). New signals breaching it are
	// scaled down proportionally, never rejected one by one.
	MaxLeverage float64 `yaml:"max_leverage" json:"max_leverage"`

	// MaxPositionSize clamps any single signal's target weight.
	MaxPositionSize float64 `yaml:"max_position_size" json:"max_position_size"`

	// MaxSectorConcentration caps the summed weight within one sector.
	// Zero disables the check.
	MaxSectorConcentration float64 `yaml:"max_sector_concentration" json:"max_sector_concentration"`

	// EnforceShortability rejects short signals for instruments outside
	// ShortableInstruments.
	EnforceShortability  bool         `yaml:"enforce_shortability" json:"enforce_shortability"`
	ShortableInstruments []Instrument `yaml:"shortable_instruments" json:"shortable_instruments"`
}

// DefaultRiskLimits returns conservative defaults for a long-only book.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxPositionLossPct:     0.10,
		MaxPortfolioLossPct:    0.20,
		MaxHoldingDays:         0,
		MaxLeverage:            1.0,
		MaxPositionSize:        0.10,
		MaxSectorConcentration: 0.25,
		EnforceShortability:    true,
	}
}

// Shortable reports whether the instrument may be sold short.
func (r RiskLimits) Shortable(inst Instrument) bool {
	for _, s := range r.ShortableInstruments {
		if s == inst {
			return true
		}
	}
	return false
}

// Validate checks the limits for configuration errors. Violations here are
// fatal: a run is never started with malformed risk limits.
func (r RiskLimits) Validate() error {
	if r.MaxPositionLossPct <= 0 {
		return fmt.Errorf("risk_limits.max_position_loss_pct: must be > 0, got %v", r.MaxPositionLossPct)
	}
	if r.MaxPortfolioLossPct <= 0 {
		return fmt.Errorf("risk_limits.max_portfolio_loss_pct: must be > 0, got %v", r.MaxPortfolioLossPct)
	}
	if r.MaxHoldingDays < 0 {
		return fmt.Errorf("risk_limits.max_holding_days: must be >= 0, got %d", r.MaxHoldingDays)
	}
	if r.MaxLeverage <= 0 {
		return fmt.Errorf("risk_limits.max_leverage: must be > 0, got %v", r.MaxLeverage)
	}
	if r.MaxPositionSize <= 0 || r.MaxPositionSize > 1 {
		return fmt.Errorf("risk_limits.max_position_size: must be in (0, 1], got %v", r.MaxPositionSize)
	}
	if r.MaxSectorConcentration < 0 || r.MaxSectorConcentration > 1 {
		return fmt.Errorf("risk_limits.max_sector_concentration: must be in [0, 1], got %v", r.MaxSectorConcentration)
	}
	return nil
}
