// Package product is the read side of the catalog used to price carts.
package product

import (
	"context"

	"github.com/shopspring/decimal"
)

// Product is a catalog item available for purchase.
type Product struct {
	ID              string
	Name            string
	SellerID        string
	CategoryID      string
	Price           decimal.Decimal
	DiscountPercent decimal.Decimal
	ImageURL        string
	Active          bool
	Variants        []Variant
}

// Variant is a purchasable option of a product. A positive Price overrides
// the product price.
type Variant struct {
	ID         string
	Name       string
	Price      decimal.Decimal
	Attributes map[string]string
}

// Variant returns the variant with the given id.
func (p *Product) Variant(id string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.ID == id {
			return v, true
		}
	}
	return Variant{}, false
}

// Quote is the unit price of one product variant.
type Quote struct {
	BasePrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	FinalPrice      decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Quote prices v, or the bare product when v is nil. The catalog discount is
// applied and rounded to cents.
func (p *Product) Quote(v *Variant) Quote {
	base := p.Price
	if v != nil && v.Price.IsPositive() {
		base = v.Price
	}
	pct := p.DiscountPercent
	if pct.IsNegative() {
		pct = decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		pct = hundred
	}
	final := base.Sub(base.Mul(pct).Div(hundred)).Round(2)
	return Quote{BasePrice: base, DiscountPercent: pct, FinalPrice: final}
}

// Repository defines read operations for the product catalog.
type Repository interface {
	// GetByIDs returns the products found; missing ids are omitted.
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
}
