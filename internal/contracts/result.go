package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Warning is a non-fatal in-loop condition (missing bar, clamped signal,
// forced exit, stale prediction). Warnings are attached to the result and
// never stop the run.
type Warning struct {
	Date       time.Time  `json:"date"`
	Instrument Instrument `json:"instrument,omitempty"`
	Code       string     `json:"code"`
	Message    string     `json:"message"`
}

// BacktestResult is the sole artifact a completed run hands back to any
// caller. Created once at the end of the run, immutable thereafter.
type BacktestResult struct {
	StrategyID string    `json:"strategy_id"`
	ConfigHash string    `json:"config_hash"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"`

	TradingDays    int `json:"trading_days"`
	RebalanceCount int `json:"rebalance_count"`

	InitialCapital decimal.Decimal `json:"initial_capital"`
	FinalValue     decimal.Decimal `json:"final_value"`

	EquityCurve []EquityCurvePoint `json:"equity_curve"`
	Trades      []Trade            `json:"trades"`

	Metrics  map[string]float64 `json:"metrics"`
	Warnings []Warning          `json:"warnings,omitempty"`

	Elapsed   time.Duration `json:"elapsed"`
	CreatedAt time.Time     `json:"created_at"`
}

// Metric returns a named metric and whether it was computed.
func (r *BacktestResult) Metric(name string) (float64, bool) {
	v, ok := r.Metrics[name]
	return v, ok
}
