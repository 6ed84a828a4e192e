package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/helios-quant/backend/internal/contracts"
	"github.com/helios-quant/backend/pkg/logger"
)

// Stats summarizes closed round-trips for win-rate style metrics.
type Stats struct {
	Closed int
	Wins   int
	Losses int
}

// Ledger is the single source of truth for cash, open positions and the
// append-only trade log. All monetary state is decimal; float64 appears
// only on derived ratios handed to the evaluator.
//
// SSOT: portfolio state lives here and nowhere else.
type Ledger struct {
	cash      decimal.Decimal
	positions map[contracts.Instrument]*contracts.Position
	trades    []contracts.Trade
	costs     CostModel
	stats     Stats
	log       *logger.Logger
}

// New creates a ledger holding the initial capital in cash.
func New(initialCapital decimal.Decimal, costs CostModel, log *logger.Logger) *Ledger {
	if log == nil {
		log = logger.Nop()
	}
	return &Ledger{
		cash:      initialCapital,
		positions: make(map[contracts.Instrument]*contracts.Position),
		costs:     costs,
		log:       log,
	}
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// Positions exposes the live position map. Callers must treat it as
// read-only; the engine walks it in sorted instrument order.
func (l *Ledger) Positions() map[contracts.Instrument]*contracts.Position {
	return l.positions
}

// Position returns the open position for inst, if any.
func (l *Ledger) Position(inst contracts.Instrument) (*contracts.Position, bool) {
	pos, ok := l.positions[inst]
	return pos, ok
}

// Trades returns the append-only trade log.
func (l *Ledger) Trades() []contracts.Trade { return l.trades }

// Stats returns closed round-trip counters.
func (l *Ledger) Stats() Stats { return l.stats }

// HoldingsValue sums the signed market value of all open positions at
// their last mark.
func (l *Ledger) HoldingsValue() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range l.positions {
		total = total.Add(pos.SignedValue())
	}
	return total
}

// TotalValue is cash plus holdings at the last mark.
func (l *Ledger) TotalValue() decimal.Decimal {
	return l.cash.Add(l.HoldingsValue())
}

// PositionWeights returns each open position's absolute weight of the
// given total. Used by the risk manager's pre-trade checks.
func (l *Ledger) PositionWeights(total decimal.Decimal) map[contracts.Instrument]float64 {
	weights := make(map[contracts.Instrument]float64, len(l.positions))
	if total.IsZero() {
		return weights
	}
	for inst, pos := range l.positions {
		w, _ := pos.MarketValue().Div(total).Float64()
		weights[inst] = w
	}
	return weights
}

// pendingOrder is an entry order sized but not yet executed, so the buy
// batch can be scaled down against available cash before any fill.
type pendingOrder struct {
	signal     contracts.Signal
	action     contracts.TradeAction
	fillPrice  decimal.Decimal
	shares     decimal.Decimal
	refPrice   decimal.Decimal
	isBuyOpen  bool
	commission decimal.Decimal
	amount     decimal.Decimal
}

func (o *pendingOrder) reprice(costs CostModel) {
	o.amount = o.shares.Mul(o.fillPrice)
	o.commission = costs.Commission(o.amount)
}

// OpenPositions sizes and fills entry signals at the given prices.
// Target shares are floor(weight * total / fill price); fractional shares
// are never held. If the combined cost of the long legs exceeds cash, all
// long legs are scaled down proportionally until the batch is affordable,
// so cash never goes negative. Signals whose instrument has no price or
// whose sized order rounds to zero shares are skipped with a warning.
func (l *Ledger) OpenPositions(
	signals []contracts.Signal,
	prices map[contracts.Instrument]decimal.Decimal,
	sectors map[contracts.Instrument]string,
	date time.Time,
	total decimal.Decimal,
) []contracts.Warning {
	var warnings []contracts.Warning
	orders := make([]*pendingOrder, 0, len(signals))

	for _, sig := range signals {
		price, ok := prices[sig.Instrument]
		if !ok || price.Sign() <= 0 {
			warnings = append(warnings, contracts.Warning{
				Date:       date,
				Instrument: sig.Instrument,
				Code:       "no_price",
				Message:    "entry skipped: no bar for date",
			})
			continue
		}
		if existing, held := l.positions[sig.Instrument]; held {
			if existing.Direction != sig.Direction {
				// The engine closes or reverses before opening; an
				// opposite-direction entry reaching here is a bug upstream.
				warnings = append(warnings, contracts.Warning{
					Date:       date,
					Instrument: sig.Instrument,
					Code:       "conflicting_entry",
					Message:    "entry skipped: open position in opposite direction",
				})
				continue
			}
		}

		action := contracts.TradeActionBuy
		if sig.Direction == contracts.DirectionShort {
			action = contracts.TradeActionSell
		}
		fill := l.costs.FillPrice(price, action)
		target := decimal.NewFromFloat(sig.TargetWeight).Mul(total)
		shares := target.Div(fill).Floor()
		if shares.Sign() <= 0 {
			warnings = append(warnings, contracts.Warning{
				Date:       date,
				Instrument: sig.Instrument,
				Code:       "zero_shares",
				Message:    fmt.Sprintf("entry skipped: target weight %.4f sizes to zero shares", sig.TargetWeight),
			})
			continue
		}
		order := &pendingOrder{
			signal:    sig,
			action:    action,
			fillPrice: fill,
			shares:    shares,
			refPrice:  price,
			isBuyOpen: action == contracts.TradeActionBuy,
		}
		order.reprice(l.costs)
		orders = append(orders, order)
	}

	l.scaleBuyBatch(orders, date, &warnings)

	for _, o := range orders {
		if o.shares.Sign() <= 0 {
			continue
		}
		l.executeOpen(o, sectors, date)
	}
	return warnings
}

// scaleBuyBatch shrinks long entries proportionally until their combined
// cost fits in cash. Short proceeds are deliberately not counted as
// spendable until the fills settle, which keeps sizing independent of
// execution order. If minimum commissions keep a tiny batch infeasible,
// the smallest orders are dropped in sorted-instrument order.
func (l *Ledger) scaleBuyBatch(orders []*pendingOrder, date time.Time, warnings *[]contracts.Warning) {
	buyCost := func() decimal.Decimal {
		cost := decimal.Zero
		for _, o := range orders {
			if o.isBuyOpen && o.shares.Sign() > 0 {
				cost = cost.Add(o.amount).Add(o.commission)
			}
		}
		return cost
	}

	cost := buyCost()
	for iter := 0; iter < 10 && cost.GreaterThan(l.cash); iter++ {
		factor := l.cash.Div(cost)
		for _, o := range orders {
			if !o.isBuyOpen || o.shares.Sign() <= 0 {
				continue
			}
			o.shares = o.shares.Mul(factor).Floor()
			o.reprice(l.costs)
		}
		cost = buyCost()
	}

	// Fixed minimum commissions can dominate when cash is nearly gone.
	for cost.GreaterThan(l.cash) {
		dropped := false
		for _, o := range orders {
			if o.isBuyOpen && o.shares.Sign() > 0 {
				*warnings = append(*warnings, contracts.Warning{
					Date:       date,
					Instrument: o.signal.Instrument,
					Code:       "insufficient_cash",
					Message:    "entry dropped: cash cannot cover scaled-down order",
				})
				o.shares = decimal.Zero
				o.reprice(l.costs)
				dropped = true
				break
			}
		}
		if !dropped {
			break
		}
		cost = buyCost()
	}
}

func (l *Ledger) executeOpen(o *pendingOrder, sectors map[contracts.Instrument]string, date time.Time) {
	sig := o.signal
	stamp := l.costs.StampTax(o.amount, o.action)

	if o.isBuyOpen {
		l.cash = l.cash.Sub(o.amount).Sub(o.commission)
	} else {
		// Short sale: proceeds net of frictions are credited to cash.
		l.cash = l.cash.Add(o.amount).Sub(o.commission).Sub(stamp)
	}

	pos, held := l.positions[sig.Instrument]
	if held {
		// Scale into an existing same-direction position at the blended
		// entry price.
		oldCost := pos.Shares.Mul(pos.EntryPrice)
		newShares := pos.Shares.Add(o.shares)
		pos.EntryPrice = oldCost.Add(o.amount).Div(newShares)
		pos.Shares = newShares
		pos.Weight += sig.TargetWeight
		pos.MarkPrice = o.refPrice
	} else {
		l.positions[sig.Instrument] = &contracts.Position{
			Instrument: sig.Instrument,
			Direction:  sig.Direction,
			EntryDate:  date,
			EntryPrice: o.fillPrice,
			Shares:     o.shares,
			Weight:     sig.TargetWeight,
			Sector:     sectors[sig.Instrument],
			MarkPrice:  o.refPrice,
		}
	}

	reason := sig.Reason
	if reason == "" {
		reason = "entry"
	}
	l.record(contracts.Trade{
		Date:       date,
		Instrument: sig.Instrument,
		Action:     o.action,
		Price:      o.fillPrice,
		Shares:     o.shares,
		Amount:     o.amount,
		Commission: o.commission,
		StampTax:   stamp,
		Reason:     reason,
	})
	l.log.WithFields(map[string]interface{}{
		"instrument": string(sig.Instrument),
		"direction":  string(sig.Direction),
		"shares":     o.shares.String(),
		"fill_price": o.fillPrice.String(),
	}).Debug("position opened")
}

// ClosePositions flattens the named positions at the given prices.
// Instruments whose bar is absent are left open and carried over with a
// warning. Realized P&L is the fill proceeds net of frictions against the
// entry cost basis.
func (l *Ledger) ClosePositions(
	closes map[contracts.Instrument]string,
	prices map[contracts.Instrument]decimal.Decimal,
	date time.Time,
) []contracts.Warning {
	var warnings []contracts.Warning
	insts := make([]contracts.Instrument, 0, len(closes))
	for inst := range closes {
		insts = append(insts, inst)
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i] < insts[j] })

	for _, inst := range insts {
		pos, held := l.positions[inst]
		if !held {
			continue
		}
		price, ok := prices[inst]
		if !ok || price.Sign() <= 0 {
			warnings = append(warnings, contracts.Warning{
				Date:       date,
				Instrument: inst,
				Code:       "no_price",
				Message:    "exit deferred: no bar for date, position carried over",
			})
			continue
		}
		l.closePosition(pos, price, date, closes[inst])
	}
	return warnings
}

func (l *Ledger) closePosition(pos *contracts.Position, price decimal.Decimal, date time.Time, reason string) {
	action := contracts.TradeActionSell
	if pos.Direction == contracts.DirectionShort {
		action = contracts.TradeActionBuy
	}
	fill := l.costs.FillPrice(price, action)
	amount := pos.Shares.Mul(fill)
	commission := l.costs.Commission(amount)
	stamp := l.costs.StampTax(amount, action)
	entryCost := pos.Shares.Mul(pos.EntryPrice)

	var realized decimal.Decimal
	if pos.Direction == contracts.DirectionLong {
		proceeds := amount.Sub(commission).Sub(stamp)
		l.cash = l.cash.Add(proceeds)
		realized = proceeds.Sub(entryCost)
	} else {
		// Buy to cover: the open credited entryCost to cash, so the
		// round-trip gain is what remains after paying for the cover.
		outlay := amount.Add(commission).Add(stamp)
		l.cash = l.cash.Sub(outlay)
		realized = entryCost.Sub(outlay)
	}

	delete(l.positions, pos.Instrument)
	l.stats.Closed++
	if realized.Sign() > 0 {
		l.stats.Wins++
	} else if realized.Sign() < 0 {
		l.stats.Losses++
	}

	l.record(contracts.Trade{
		Date:        date,
		Instrument:  pos.Instrument,
		Action:      action,
		Price:       fill,
		Shares:      pos.Shares,
		Amount:      amount,
		Commission:  commission,
		StampTax:    stamp,
		RealizedPnL: realized,
		Closing:     true,
		Reason:      reason,
	})
	l.log.WithFields(map[string]interface{}{
		"instrument":   string(pos.Instrument),
		"reason":       reason,
		"realized_pnl": realized.String(),
	}).Debug("position closed")
}

// MarkToMarket reprices open positions at the given closes and emits the
// day's equity point. Positions without a price keep their previous mark.
// The identity total = cash + holdings holds exactly in decimal.
func (l *Ledger) MarkToMarket(prices map[contracts.Instrument]decimal.Decimal, date time.Time) contracts.EquityCurvePoint {
	for _, inst := range contracts.SortedInstruments(l.positions) {
		pos := l.positions[inst]
		price, ok := prices[inst]
		if !ok || price.Sign() <= 0 {
			continue
		}
		pos.MarkPrice = price
		diff := price.Sub(pos.EntryPrice).Mul(pos.Shares)
		if pos.Direction == contracts.DirectionShort {
			diff = diff.Neg()
		}
		pos.UnrealizedPnL = diff
	}
	holdings := l.HoldingsValue()
	return contracts.EquityCurvePoint{
		Date:          date,
		Cash:          l.cash,
		HoldingsValue: holdings,
		TotalValue:    l.cash.Add(holdings),
	}
}

// record appends a trade with post-trade snapshots of the book.
func (l *Ledger) record(t contracts.Trade) {
	t.CashAfter = l.cash
	t.HoldingsAfter = l.HoldingsValue()
	t.TotalAfter = t.CashAfter.Add(t.HoldingsAfter)
	l.trades = append(l.trades, t)
}
