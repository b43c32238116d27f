package promotion

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Discounts is the discount part of a price breakdown.
type Discounts struct {
	OfferDiscount   decimal.Decimal
	CouponDiscount  decimal.Decimal
	AppliedOfferIDs []int64
	// CouponCode is set only when the coupon discount was applied.
	CouponCode      string
	CouponRejection *RejectionError
}

// Merchandise returns the discounted merchandise amount, floored at zero.
func (d Discounts) Merchandise(subtotal decimal.Decimal) decimal.Decimal {
	return floorAtZero(subtotal.Sub(d.OfferDiscount).Sub(d.CouponDiscount))
}

// Input is everything Calculate needs. ShippingCharge and Tax come from the
// shipping and tax providers and are added after discounts.
type Input struct {
	Subtotal       decimal.Decimal
	Offers         []Offer
	Coupon         *Coupon
	ShippingCharge decimal.Decimal
	Tax            decimal.Decimal
}

// Breakdown is the computed price of a cart. It is snapshotted into the order
// at checkout commit.
type Breakdown struct {
	Subtotal        decimal.Decimal
	OfferDiscount   decimal.Decimal
	CouponDiscount  decimal.Decimal
	ShippingCharge  decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
	AppliedOfferIDs []int64
	CouponCode      string
	CouponRejection *RejectionError
}

// Calculate combines offers and the coupon into a Breakdown. It has no side
// effects and returns equal results for equal inputs.
//
// The result always satisfies OfferDiscount+CouponDiscount <= Subtotal and
// Total >= ShippingCharge+Tax.
func Calculate(in Input) Breakdown {
	d := ApplyDiscounts(in.Subtotal, in.Offers, in.Coupon)
	return Breakdown{
		Subtotal:        in.Subtotal,
		OfferDiscount:   d.OfferDiscount,
		CouponDiscount:  d.CouponDiscount,
		ShippingCharge:  in.ShippingCharge,
		Tax:             in.Tax,
		Total:           d.Merchandise(in.Subtotal).Add(in.ShippingCharge).Add(in.Tax).Round(2),
		AppliedOfferIDs: d.AppliedOfferIDs,
		CouponCode:      d.CouponCode,
		CouponRejection: d.CouponRejection,
	}
}

// ApplyDiscounts computes the offer and coupon discounts for subtotal.
//
// Offers go through SelectOffers first, so a single non-stackable offer drops
// every other one. The summed offer discount is clamped to the subtotal. The
// coupon is applied against the post-offer amount when it is stackable or no
// offer discount was applied; otherwise it is rejected as not combinable.
func ApplyDiscounts(subtotal decimal.Decimal, offers []Offer, coupon *Coupon) Discounts {
	subtotal = floorAtZero(subtotal)

	var d Discounts
	offerSum := decimal.Zero
	for _, o := range SelectOffers(offers) {
		offerSum = offerSum.Add(amountOff(o.DiscountType, o.Value, o.MaxDiscount, subtotal))
		d.AppliedOfferIDs = append(d.AppliedOfferIDs, o.ID)
	}
	d.OfferDiscount = decimal.Min(offerSum, subtotal)
	d.CouponDiscount = decimal.Zero

	if coupon == nil {
		return d
	}
	if !coupon.Stackable && d.OfferDiscount.IsPositive() {
		d.CouponRejection = reject(coupon.Code, ReasonNotCombinable)
		return d
	}

	base := subtotal.Sub(d.OfferDiscount)
	d.CouponDiscount = decimal.Min(amountOff(coupon.DiscountType, coupon.Value, coupon.MaxDiscount, base), base)
	d.CouponCode = coupon.Code
	return d
}

// amountOff computes a single discount against base, rounded to cents.
func amountOff(typ DiscountType, value, maxDiscount, base decimal.Decimal) decimal.Decimal {
	var amount decimal.Decimal
	switch typ {
	case DiscountPercentage:
		amount = base.Mul(value).Div(hundred)
		if maxDiscount.IsPositive() {
			amount = decimal.Min(amount, maxDiscount)
		}
	case DiscountFlat:
		amount = value
	default:
		return decimal.Zero
	}
	return floorAtZero(amount).Round(2)
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
