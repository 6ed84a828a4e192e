package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/helios-quant/backend/internal/contracts"
	"github.com/helios-quant/backend/internal/marketdata"
)

// CompositeMode controls how multiple exit strategies combine.
type CompositeMode string

const (
	// CompositeOR closes a position when any configured exit triggers.
	// This is the default.
	CompositeOR CompositeMode = "or"
	// CompositeAND closes a position only when every configured exit
	// triggers on the same date.
	CompositeAND CompositeMode = "and"
)

// Composite combines exit strategies under OR or AND semantics.
type Composite struct {
	exits []Exit
	mode  CompositeMode
}

// NewComposite builds a composite exit. At least one exit is required: a
// run with no path to realizing P&L is a configuration error, enforced
// upstream by config validation and again here.
func NewComposite(exits []Exit, mode CompositeMode) (*Composite, error) {
	if len(exits) == 0 {
		return nil, fmt.Errorf("at least one exit strategy is required")
	}
	if mode == "" {
		mode = CompositeOR
	}
	if mode != CompositeOR && mode != CompositeAND {
		return nil, fmt.Errorf("unknown exit composite mode %q", mode)
	}
	return &Composite{exits: exits, mode: mode}, nil
}

// GenerateExits implements Exit.
func (c *Composite) GenerateExits(ctx context.Context, positions map[contracts.Instrument]*contracts.Position, date time.Time, data *marketdata.View) (contracts.ExitSet, error) {
	sets := make([]contracts.ExitSet, 0, len(c.exits))
	for _, e := range c.exits {
		set, err := e.GenerateExits(ctx, positions, date, data)
		if err != nil {
			return contracts.ExitSet{}, err
		}
		sets = append(sets, set)
	}

	if c.mode == CompositeOR {
		merged := contracts.NewExitSet()
		for _, set := range sets {
			merged.Merge(set)
		}
		return merged, nil
	}

	// AND: a position exits only when every strategy listed it (as close
	// or reverse). The decision of the first strategy wins for the kind
	// of exit and its reason.
	merged := contracts.NewExitSet()
	for inst := range positions {
		votes := 0
		for _, set := range sets {
			_, closed := set.Close[inst]
			_, reversed := set.Reverse[inst]
			if closed || reversed {
				votes++
			}
		}
		if votes != len(sets) {
			continue
		}
		for _, set := range sets {
			if reason, ok := set.Close[inst]; ok {
				merged.Close[inst] = reason
				break
			}
			if sig, ok := set.Reverse[inst]; ok {
				merged.Reverse[inst] = sig
				break
			}
		}
	}
	return merged, nil
}

// maxHoldingDaysExit flattens positions held for the configured number of
// trading days.
type maxHoldingDaysExit struct {
	days int
}

func newMaxHoldingDaysExit(p Params, _ Deps) (Exit, error) {
	days := p.Int("days", 0)
	if days <= 0 {
		return nil, fmt.Errorf("exit \"max_holding_days\": days must be > 0, got %d", days)
	}
	return &maxHoldingDaysExit{days: days}, nil
}

func (e *maxHoldingDaysExit) GenerateExits(_ context.Context, positions map[contracts.Instrument]*contracts.Position, date time.Time, data *marketdata.View) (contracts.ExitSet, error) {
	set := contracts.NewExitSet()
	for _, inst := range contracts.SortedInstruments(positions) {
		pos := positions[inst]
		if data.TradingDaysBetween(pos.EntryDate, date) >= e.days {
			set.Close[inst] = "max_holding_days"
		}
	}
	return set, nil
}

// targetBandExit flattens positions whose unrealized return leaves the
// configured take-profit/stop-loss band. Both legs are optional; zero
// disables a leg.
type targetBandExit struct {
	takeProfitPct float64
	stopLossPct   float64
}

func newTargetBandExit(p Params, _ Deps) (Exit, error) {
	e := &targetBandExit{
		takeProfitPct: p.Float("take_profit_pct", 0),
		stopLossPct:   p.Float("stop_loss_pct", 0),
	}
	if e.takeProfitPct < 0 || e.stopLossPct < 0 {
		return nil, fmt.Errorf("exit \"target_band\": percentages must be >= 0")
	}
	if e.takeProfitPct == 0 && e.stopLossPct == 0 {
		return nil, fmt.Errorf("exit \"target_band\": at least one of take_profit_pct, stop_loss_pct is required")
	}
	return e, nil
}

func (e *targetBandExit) GenerateExits(ctx context.Context, positions map[contracts.Instrument]*contracts.Position, date time.Time, data *marketdata.View) (contracts.ExitSet, error) {
	set := contracts.NewExitSet()
	for _, inst := range contracts.SortedInstruments(positions) {
		pos := positions[inst]
		bar, ok, err := data.Bar(ctx, inst, date)
		if err != nil {
			return contracts.ExitSet{}, err
		}
		if !ok {
			// Untradeable today; the position carries over.
			continue
		}

		marked := *pos
		marked.MarkPrice = bar.Close
		pnl := marked.PnLPct()

		switch {
		case e.takeProfitPct > 0 && pnl >= e.takeProfitPct:
			set.Close[inst] = "take_profit"
		case e.stopLossPct > 0 && pnl <= -e.stopLossPct:
			set.Close[inst] = "stop_loss"
		}
	}
	return set, nil
}

// signalReversalExit reverses a position when its trailing momentum flips
// against the held direction: the position is flattened and reopened on
// the opposite side at the same weight.
type signalReversalExit struct {
	lookbackDays int
	factors      *marketdata.FactorCache
}

func newSignalReversalExit(p Params, deps Deps) (Exit, error) {
	return &signalReversalExit{
		lookbackDays: p.Int("lookback_days", 20),
		factors:      deps.Factors,
	}, nil
}

func (e *signalReversalExit) GenerateExits(ctx context.Context, positions map[contracts.Instrument]*contracts.Position, date time.Time, data *marketdata.View) (contracts.ExitSet, error) {
	set := contracts.NewExitSet()
	for _, inst := range contracts.SortedInstruments(positions) {
		pos := positions[inst]
		mom, ok, err := trailingReturn(ctx, e.factors, data, inst, date, e.lookbackDays)
		if err != nil {
			return contracts.ExitSet{}, err
		}
		if !ok {
			continue
		}

		flipped := (pos.Direction == contracts.DirectionLong && mom < 0) ||
			(pos.Direction == contracts.DirectionShort && mom > 0)
		if !flipped {
			continue
		}

		set.Reverse[inst] = contracts.Signal{
			Instrument:   inst,
			Direction:    pos.Direction.Opposite(),
			TargetWeight: pos.Weight,
			Reason:       "signal_reversal",
			Metadata:     map[string]float64{"momentum": mom},
		}
	}
	return set, nil
}
