package runconfig

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/helios-quant/backend/internal/contracts"
)

const dateLayout = "2006-01-02"

// Config is the full definition of one backtest run, loaded from YAML.
// SSOT: every run parameter the engine reads comes from here; the same
// file always produces the same ConfigHash and the same result.
type Config struct {
	Meta      Meta                 `yaml:"meta" json:"meta"`
	Universe  []string             `yaml:"universe" json:"universe"`
	Sectors   map[string]string    `yaml:"sectors" json:"sectors"`
	Calendar  Calendar             `yaml:"calendar" json:"calendar"`
	Capital   Capital              `yaml:"capital" json:"capital"`
	Costs     Costs                `yaml:"costs" json:"costs"`
	Selector  Component            `yaml:"selector" json:"selector"`
	Entry     Component            `yaml:"entry" json:"entry"`
	Exits     []Component          `yaml:"exits" json:"exits"`
	ExitMode  string               `yaml:"exit_mode" json:"exit_mode"` // or (default), and
	Risk      contracts.RiskLimits `yaml:"risk" json:"risk"`
	Benchmark string               `yaml:"benchmark" json:"benchmark"`
}

// Meta identifies the strategy being tested.
type Meta struct {
	StrategyID  string `yaml:"strategy_id" json:"strategy_id"`
	Version     string `yaml:"version" json:"version"`
	Description string `yaml:"description" json:"description"`
}

// Calendar bounds the run and sets the rebalance cadence.
type Calendar struct {
	StartDate          string `yaml:"start_date" json:"start_date"` // YYYY-MM-DD
	EndDate            string `yaml:"end_date" json:"end_date"`     // YYYY-MM-DD
	RebalanceFrequency string `yaml:"rebalance_frequency" json:"rebalance_frequency"` // daily, weekly, monthly
}

// Capital holds the starting cash and the risk-free rate used by the
// evaluator. InitialCapital is a string so YAML never routes money
// through float64.
type Capital struct {
	InitialCapital string  `yaml:"initial_capital" json:"initial_capital"`
	RiskFreeRate   float64 `yaml:"risk_free_rate" json:"risk_free_rate"` // annualized
}

// Costs parameterizes the ledger's friction model.
type Costs struct {
	CommissionRate float64 `yaml:"commission_rate" json:"commission_rate"`
	MinCommission  float64 `yaml:"min_commission" json:"min_commission"`
	StampTaxRate   float64 `yaml:"stamp_tax_rate" json:"stamp_tax_rate"`
	SlippagePct    float64 `yaml:"slippage_pct" json:"slippage_pct"`
}

// Component names a registered strategy part and its parameters.
type Component struct {
	ID     string         `yaml:"id" json:"id"`
	Params map[string]any `yaml:"params" json:"params"`
}

// Start parses the start date. Validate has already checked the layout.
func (c *Config) Start() time.Time {
	t, _ := time.Parse(dateLayout, c.Calendar.StartDate)
	return t
}

// End parses the end date.
func (c *Config) End() time.Time {
	t, _ := time.Parse(dateLayout, c.Calendar.EndDate)
	return t
}

// InitialCapital parses the starting cash as a decimal.
func (c *Config) InitialCapital() decimal.Decimal {
	v, _ := decimal.NewFromString(c.Capital.InitialCapital)
	return v
}

// BenchmarkInstrument returns the benchmark, empty when unset.
func (c *Config) BenchmarkInstrument() contracts.Instrument {
	return contracts.Instrument(c.Benchmark)
}

// UniverseInstruments converts the configured universe to typed ids.
func (c *Config) UniverseInstruments() []contracts.Instrument {
	out := make([]contracts.Instrument, len(c.Universe))
	for i, s := range c.Universe {
		out[i] = contracts.Instrument(s)
	}
	return out
}

// SectorMap converts the configured sector mapping to typed ids.
func (c *Config) SectorMap() map[contracts.Instrument]string {
	out := make(map[contracts.Instrument]string, len(c.Sectors))
	for inst, sector := range c.Sectors {
		out[contracts.Instrument(inst)] = sector
	}
	return out
}
