package contracts

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open holding. Owned exclusively by the ledger: created on
// fill, marked on every valuation date, removed on full close. Shares is
// strictly positive while the position exists; a closed position is deleted,
// never zeroed.
type Position struct {
	Instrument    Instrument      `json:"instrument"`
	Direction     Direction       `json:"direction"`
	EntryDate     time.Time       `json:"entry_date"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	Shares        decimal.Decimal `json:"shares"`
	Weight        float64         `json:"weight"` // target weight at entry
	Sector        string          `json:"sector,omitempty"`
	MarkPrice     decimal.Decimal `json:"mark_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
}

// MarketValue returns shares * mark price, always positive.
func (p *Position) MarketValue() decimal.Decimal {
	return p.Shares.Mul(p.MarkPrice)
}

// SignedValue returns the position's contribution to holdings value:
// positive for longs, negative for shorts (a short is a liability to buy
// back; its sale proceeds already sit in cash).
func (p *Position) SignedValue() decimal.Decimal {
	if p.Direction == DirectionShort {
		return p.MarketValue().Neg()
	}
	return p.MarketValue()
}

// PnLPct returns the unrealized return relative to entry, signed by
// direction. A short profits when the mark falls below entry.
func (p *Position) PnLPct() float64 {
	if p.EntryPrice.IsZero() {
		return 0
	}
	raw, _ := p.MarkPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Float64()
	return raw * p.Direction.Sign()
}

// TradeAction is the executed side of a fill.
type TradeAction string

const (
	TradeActionBuy  TradeAction = "buy"
	TradeActionSell TradeAction = "sell"
)

// Trade is one immutable entry in the ledger's append-only audit log. Every
// trade carries post-trade cash/holdings/total snapshots so the log can be
// audited without replaying it.
type Trade struct {
	Date       time.Time       `json:"date"`
	Instrument Instrument      `json:"instrument"`
	Action     TradeAction     `json:"action"`
	Price      decimal.Decimal `json:"price"` // fill price, slippage included
	Shares     decimal.Decimal `json:"shares"`
	Amount     decimal.Decimal `json:"amount"` // price * shares
	Commission decimal.Decimal `json:"commission"`
	StampTax   decimal.Decimal `json:"stamp_tax"`

	// RealizedPnL is set on closing fills only.
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Closing     bool            `json:"closing"`

	CashAfter     decimal.Decimal `json:"cash_after"`
	HoldingsAfter decimal.Decimal `json:"holdings_value_after"`
	TotalAfter    decimal.Decimal `json:"total_value_after"`

	Reason string `json:"reason"`
}

// EquityCurvePoint is one valuation of the whole book, one per simulated
// trading date, ordered by date.
// Invariant: TotalValue = Cash + HoldingsValue at every point.
type EquityCurvePoint struct {
	Date          time.Time       `json:"date"`
	Cash          decimal.Decimal `json:"cash"`
	HoldingsValue decimal.Decimal `json:"holdings_value"`
	TotalValue    decimal.Decimal `json:"total_value"`
}
