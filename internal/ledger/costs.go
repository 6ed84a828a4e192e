package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/helios-quant/backend/internal/contracts"
)

var one = decimal.NewFromInt(1)

// CostModel prices the frictions applied to every fill: slippage (adverse
// price movement between decision and fill), commission with a minimum,
// and stamp tax on the sell leg only.
type CostModel struct {
	CommissionRate decimal.Decimal
	MinCommission  decimal.Decimal
	StampTaxRate   decimal.Decimal
	SlippagePct    decimal.Decimal
}

// NewCostModel builds a cost model from configuration rates.
func NewCostModel(commissionRate, minCommission, stampTaxRate, slippagePct float64) CostModel {
	return CostModel{
		CommissionRate: decimal.NewFromFloat(commissionRate),
		MinCommission:  decimal.NewFromFloat(minCommission),
		StampTaxRate:   decimal.NewFromFloat(stampTaxRate),
		SlippagePct:    decimal.NewFromFloat(slippagePct),
	}
}

// FillPrice applies slippage in the adverse direction for the trade side:
// buys fill above the reference price, sells below.
func (c CostModel) FillPrice(price decimal.Decimal, action contracts.TradeAction) decimal.Decimal {
	if action == contracts.TradeActionBuy {
		return price.Mul(one.Add(c.SlippagePct))
	}
	return price.Mul(one.Sub(c.SlippagePct))
}

// Commission returns max(amount * rate, minimum), rounded to 2 decimal
// places.
func (c CostModel) Commission(amount decimal.Decimal) decimal.Decimal {
	commission := amount.Mul(c.CommissionRate).Round(2)
	if commission.LessThan(c.MinCommission) {
		return c.MinCommission
	}
	return commission
}

// StampTax returns the tax for a fill. Applied to sells only.
func (c CostModel) StampTax(amount decimal.Decimal, action contracts.TradeAction) decimal.Decimal {
	if action != contracts.TradeActionSell {
		return decimal.Zero
	}
	return amount.Mul(c.StampTaxRate).Round(2)
}
