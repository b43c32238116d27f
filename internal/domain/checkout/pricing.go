package checkout

import (
	"github.com/shopspring/decimal"
)

// ShippingPolicy prices delivery for a discounted merchandise amount.
type ShippingPolicy interface {
	Shipping(merchandise decimal.Decimal) decimal.Decimal
}

// TaxPolicy computes tax on a discounted merchandise amount.
type TaxPolicy interface {
	Tax(merchandise decimal.Decimal) decimal.Decimal
}

// FlatShipping charges a fixed amount, waived once the merchandise amount
// reaches FreeAbove. A zero FreeAbove never waives the charge.
type FlatShipping struct {
	Charge    decimal.Decimal
	FreeAbove decimal.Decimal
}

func (f FlatShipping) Shipping(merchandise decimal.Decimal) decimal.Decimal {
	if f.FreeAbove.IsPositive() && merchandise.GreaterThanOrEqual(f.FreeAbove) {
		return decimal.Zero
	}
	if f.Charge.IsNegative() {
		return decimal.Zero
	}
	return f.Charge.Round(2)
}

// PercentTax applies Rate percent, rounded to cents.
type PercentTax struct {
	Rate decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

func (p PercentTax) Tax(merchandise decimal.Decimal) decimal.Decimal {
	if !p.Rate.IsPositive() || !merchandise.IsPositive() {
		return decimal.Zero
	}
	return merchandise.Mul(p.Rate).Div(hundred).Round(2)
}
