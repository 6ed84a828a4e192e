// Package risk implements the cross-cutting risk gate: pre-trade signal
// clamping before orders reach the ledger, and continuous position
// scanning that emits forced exits. Limit breaches are resolved by
// clamping or force-closing; they never abort the run. Only malformed
// limits are fatal, and those are rejected at construction time.
package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/helios-quant/backend/internal/contracts"
	"github.com/helios-quant/backend/pkg/logger"
)

// Manager evaluates risk limits for one run. It owns the portfolio
// high-water mark; everything else is pure computation over the inputs the
// orchestrator hands it each date.
type Manager struct {
	limits  contracts.RiskLimits
	sectors map[contracts.Instrument]string
	logger  *logger.Logger

	highWater    decimal.Decimal
	hasHighWater bool
}

// NewManager validates the limits and builds a manager. The sectors map
// supplies sector membership for the concentration check; instruments
// missing from it are treated as sector-less and skip that check.
func NewManager(limits contracts.RiskLimits, sectors map[contracts.Instrument]string, log *logger.Logger) (*Manager, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid risk limits: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		limits:  limits,
		sectors: sectors,
		logger:  log,
	}, nil
}

// Limits returns the immutable limits this manager enforces.
func (m *Manager) Limits() contracts.RiskLimits {
	return m.limits
}

// FilterSignals is the pre-trade gate. Checks run independently and
// combine by "most restrictive wins":
//
//  1. short-sale eligibility: ineligible shorts are rejected outright;
//  2. per-signal position-size cap: clamped, not rejected;
//  3. sector concentration: new entrants in a breaching sector are
//     scaled down first, existing positions are left alone;
//  4. leverage: all surviving signals scale proportionally until
//     existing exposure plus new exposure fits under the cap.
//
// positionWeights carries current |weight| per open position (mark-based).
// The returned map contains only signals that survived with weight > 0.
func (m *Manager) FilterSignals(signals map[contracts.Instrument]contracts.Signal, positionWeights map[contracts.Instrument]float64, date time.Time) (map[contracts.Instrument]contracts.Signal, []contracts.Warning) {
	var warnings []contracts.Warning
	accepted := make(map[contracts.Instrument]contracts.Signal, len(signals))

	// 1. Short-sale eligibility.
	for _, inst := range contracts.SortedInstruments(signals) {
		sig := signals[inst]
		if sig.Direction == contracts.DirectionShort && m.limits.EnforceShortability && !m.limits.Shortable(inst) {
			warnings = append(warnings, contracts.Warning{
				Date:       date,
				Instrument: inst,
				Code:       "short_not_allowed",
				Message:    fmt.Sprintf("%s is not in the shortable set; short signal rejected", inst),
			})
			continue
		}
		accepted[inst] = sig
	}

	// 2. Position-size cap.
	for inst, sig := range accepted {
		if sig.TargetWeight > m.limits.MaxPositionSize {
			warnings = append(warnings, contracts.Warning{
				Date:       date,
				Instrument: inst,
				Code:       "position_size_clamped",
				Message:    fmt.Sprintf("target weight %.4f clamped to %.4f", sig.TargetWeight, m.limits.MaxPositionSize),
			})
			sig.TargetWeight = m.limits.MaxPositionSize
			accepted[inst] = sig
		}
	}

	// 3. Sector concentration: clamp the newest entrants (this date's
	// signals) proportionally; open positions are handled by the
	// continuous scan, not retroactively resized.
	if m.limits.MaxSectorConcentration > 0 && len(m.sectors) > 0 {
		warnings = append(warnings, m.clampSectors(accepted, positionWeights, date)...)
	}

	// 4. Leverage: scale all new signals down together, never reject one
	// outright.
	existing := 0.0
	for _, w := range positionWeights {
		if w < 0 {
			w = -w
		}
		existing += w
	}
	newSum := 0.0
	for _, sig := range accepted {
		newSum += sig.TargetWeight
	}
	if newSum > 0 && existing+newSum > m.limits.MaxLeverage {
		headroom := m.limits.MaxLeverage - existing
		if headroom < 0 {
			headroom = 0
		}
		scale := headroom / newSum
		for inst, sig := range accepted {
			sig.TargetWeight *= scale
			accepted[inst] = sig
		}
		warnings = append(warnings, contracts.Warning{
			Date:    date,
			Code:    "leverage_scaled",
			Message: fmt.Sprintf("new signals scaled by %.4f to keep gross exposure within %.2f", scale, m.limits.MaxLeverage),
		})
	}

	// Drop signals clamped to nothing.
	for inst, sig := range accepted {
		if sig.TargetWeight <= 1e-9 {
			delete(accepted, inst)
		}
	}

	return accepted, warnings
}

// clampSectors scales this date's signals within each breaching sector so
// that existing + new weight fits under the concentration cap.
func (m *Manager) clampSectors(accepted map[contracts.Instrument]contracts.Signal, positionWeights map[contracts.Instrument]float64, date time.Time) []contracts.Warning {
	var warnings []contracts.Warning

	existingBySector := make(map[string]float64)
	for inst, w := range positionWeights {
		if sector, ok := m.sectors[inst]; ok {
			if w < 0 {
				w = -w
			}
			existingBySector[sector] += w
		}
	}

	newBySector := make(map[string]float64)
	for inst, sig := range accepted {
		if sector, ok := m.sectors[inst]; ok {
			newBySector[sector] += sig.TargetWeight
		}
	}

	for sector, newSum := range newBySector {
		headroom := m.limits.MaxSectorConcentration - existingBySector[sector]
		if headroom < 0 {
			headroom = 0
		}
		if newSum <= headroom {
			continue
		}

		scale := 0.0
		if newSum > 0 {
			scale = headroom / newSum
		}
		for inst, sig := range accepted {
			if m.sectors[inst] != sector {
				continue
			}
			sig.TargetWeight *= scale
			accepted[inst] = sig
		}
		warnings = append(warnings, contracts.Warning{
			Date:    date,
			Code:    "sector_concentration_clamped",
			Message: fmt.Sprintf("sector %s signals scaled by %.4f to fit concentration cap %.2f", sector, scale, m.limits.MaxSectorConcentration),
		})
	}

	return warnings
}

// ScanPositions is the continuous gate: it inspects open positions against
// per-position limits and returns forced exits. Positions without a price
// this date (absent bar) are untradeable and skipped entirely; they carry
// over unmarked. ages holds trading days held per instrument.
func (m *Manager) ScanPositions(positions map[contracts.Instrument]*contracts.Position, prices map[contracts.Instrument]decimal.Decimal, ages map[contracts.Instrument]int, date time.Time) (contracts.ExitSet, []contracts.Warning) {
	forced := contracts.NewExitSet()
	var warnings []contracts.Warning

	for _, inst := range contracts.SortedInstruments(positions) {
		pos := positions[inst]
		price, tradeable := prices[inst]
		if !tradeable {
			continue
		}

		marked := *pos
		marked.MarkPrice = price
		pnl := marked.PnLPct()

		if pnl <= -m.limits.MaxPositionLossPct {
			forced.Close[inst] = "stop_loss"
			warnings = append(warnings, contracts.Warning{
				Date:       date,
				Instrument: inst,
				Code:       "forced_stop_loss",
				Message:    fmt.Sprintf("unrealized loss %.4f breaches max_position_loss_pct %.4f", pnl, m.limits.MaxPositionLossPct),
			})
			continue
		}

		if m.limits.MaxHoldingDays > 0 && ages[inst] >= m.limits.MaxHoldingDays {
			forced.Close[inst] = "max_holding_days"
			warnings = append(warnings, contracts.Warning{
				Date:       date,
				Instrument: inst,
				Code:       "forced_max_holding",
				Message:    fmt.Sprintf("held %d trading days, limit %d", ages[inst], m.limits.MaxHoldingDays),
			})
		}
	}

	return forced, warnings
}

// CheckDrawdown updates the running high-water mark with the current total
// value and reports whether the portfolio-level stop has been breached.
// The caller force-closes everything on breach. A breach rebases the mark
// to the current total, so the stop fires once per episode and the run can
// re-enter on the next date instead of sitting in cash forever.
func (m *Manager) CheckDrawdown(total decimal.Decimal) (breached bool, drawdown float64) {
	if !m.hasHighWater || total.GreaterThan(m.highWater) {
		m.highWater = total
		m.hasHighWater = true
	}

	if m.highWater.IsZero() {
		return false, 0
	}

	dd, _ := m.highWater.Sub(total).Div(m.highWater).Float64()
	if dd > m.limits.MaxPortfolioLossPct {
		m.highWater = total
		return true, dd
	}
	return false, dd
}
