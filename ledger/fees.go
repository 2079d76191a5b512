package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FeeSchedule holds the per-account commission and tax parameters.
// Rates are fractions of notional (0.001 == 0.1%).
type FeeSchedule struct {
	CommissionBuy  decimal.Decimal `json:"commission_buy" yaml:"commission_buy"`
	CommissionSell decimal.Decimal `json:"commission_sell" yaml:"commission_sell"`
	TaxRate        decimal.Decimal `json:"tax_rate" yaml:"tax_rate"`
	MinCommission  decimal.Decimal `json:"min_commission" yaml:"min_commission"`
}

// DefaultFees mirrors a typical exchange schedule: 0.1% commission each way,
// 0.1% tax on sells and a 5.00 minimum commission.
func DefaultFees() FeeSchedule {
	return FeeSchedule{
		CommissionBuy:  D("0.001"),
		CommissionSell: D("0.001"),
		TaxRate:        D("0.001"),
		MinCommission:  D("5"),
	}
}

// NoFees is a schedule that charges nothing.
func NoFees() FeeSchedule {
	return FeeSchedule{}
}

func (f FeeSchedule) Validate() error {
	for name, v := range map[string]decimal.Decimal{
		"commission_buy":  f.CommissionBuy,
		"commission_sell": f.CommissionSell,
		"tax_rate":        f.TaxRate,
		"min_commission":  f.MinCommission,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s must be >= 0, got %s", ErrInvalidParameter, name, v)
		}
	}
	return nil
}

// Fees is the breakdown charged for a single fill.
type Fees struct {
	Amount     decimal.Decimal `json:"amount"`
	Commission decimal.Decimal `json:"commission"`
	Tax        decimal.Decimal `json:"tax"`
	Total      decimal.Decimal `json:"total"`
}

// Compute returns the fees for trading qty at price.
//
// BUY and COVER_SHORT pay the buy commission and no tax. SELL and SHORT_SELL
// pay the sell commission plus tax. The commission never drops below
// MinCommission. HOLD is free.
func (f FeeSchedule) Compute(a Action, qty, price decimal.Decimal) Fees {
	if a == Hold {
		return Fees{Amount: zero, Commission: zero, Tax: zero, Total: zero}
	}

	amount := Q8(qty.Mul(price))

	rate := f.CommissionSell
	tax := zero
	if a == Buy || a == CoverShort {
		rate = f.CommissionBuy
	} else {
		tax = Q8(amount.Mul(f.TaxRate))
	}

	commission := Max(Q8(amount.Mul(rate)), f.MinCommission)
	return Fees{
		Amount:     amount,
		Commission: commission,
		Tax:        tax,
		Total:      Q8(commission.Add(tax)),
	}
}
