package promotion

import (
	"math/rand/v2"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func pctOffer(id int64, value, maxDiscount, minPurchase string) Offer {
	return Offer{
		ID:           id,
		DiscountType: DiscountPercentage,
		Value:        d(value),
		MaxDiscount:  d(maxDiscount),
		MinPurchase:  d(minPurchase),
		Status:       StatusActive,
	}
}

func flatOffer(id int64, value string, stackable bool) Offer {
	return Offer{
		ID:           id,
		DiscountType: DiscountFlat,
		Value:        d(value),
		Stackable:    stackable,
		Status:       StatusActive,
	}
}

func TestCalculate_CappedPercentageOfferRejectsNonStackableCoupon(t *testing.T) {
	offer := pctOffer(1, "20", "150", "500")
	coupon := &Coupon{
		ID:           7,
		Code:         "SAVE50",
		DiscountType: DiscountFlat,
		Value:        d("50"),
		Status:       StatusActive,
	}

	got := Calculate(Input{
		Subtotal: d("1000"),
		Offers:   []Offer{offer},
		Coupon:   coupon,
	})

	assert.True(t, d("150").Equal(got.OfferDiscount), "offer discount %s", got.OfferDiscount)
	assert.True(t, got.CouponDiscount.IsZero())
	assert.Empty(t, got.CouponCode)
	require.NotNil(t, got.CouponRejection)
	assert.Equal(t, ReasonNotCombinable, got.CouponRejection.Reason)
	assert.ErrorIs(t, got.CouponRejection, ErrCouponRejected)
	assert.True(t, d("850").Equal(got.Total), "total %s", got.Total)
	assert.Equal(t, []int64{1}, got.AppliedOfferIDs)
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name         string
		in           Input
		wantOffer    string
		wantCoupon   string
		wantTotal    string
		wantOfferIDs []int64
		wantCode     string
		wantReason   Reason
	}{
		{
			name:      "no promotions",
			in:        Input{Subtotal: d("120.50"), ShippingCharge: d("40"), Tax: d("6.03")},
			wantOffer: "0", wantCoupon: "0", wantTotal: "166.53",
		},
		{
			name: "uncapped percentage offer",
			in: Input{
				Subtotal: d("200"),
				Offers:   []Offer{pctOffer(3, "15", "0", "0")},
			},
			wantOffer: "30", wantCoupon: "0", wantTotal: "170", wantOfferIDs: []int64{3},
		},
		{
			name: "stackable offers are summed",
			in: Input{
				Subtotal: d("300"),
				Offers:   []Offer{flatOffer(5, "20", true), flatOffer(2, "30", true)},
			},
			wantOffer: "50", wantCoupon: "0", wantTotal: "250", wantOfferIDs: []int64{2, 5},
		},
		{
			name: "non-stackable offer drops stackable ones",
			in: Input{
				Subtotal: d("300"),
				Offers: []Offer{
					flatOffer(5, "20", true),
					{ID: 9, DiscountType: DiscountFlat, Value: d("10"), Status: StatusActive},
				},
			},
			wantOffer: "10", wantCoupon: "0", wantTotal: "290", wantOfferIDs: []int64{9},
		},
		{
			name: "summed offers clamped to subtotal",
			in: Input{
				Subtotal:       d("40"),
				Offers:         []Offer{flatOffer(1, "30", true), flatOffer(2, "30", true)},
				ShippingCharge: d("5"),
			},
			wantOffer: "40", wantCoupon: "0", wantTotal: "5", wantOfferIDs: []int64{1, 2},
		},
		{
			name: "stackable coupon applies to post-offer amount",
			in: Input{
				Subtotal: d("1000"),
				Offers:   []Offer{pctOffer(1, "20", "150", "500")},
				Coupon: &Coupon{
					Code: "TEN", DiscountType: DiscountPercentage, Value: d("10"),
					Stackable: true, Status: StatusActive,
				},
			},
			wantOffer: "150", wantCoupon: "85", wantTotal: "765", wantOfferIDs: []int64{1}, wantCode: "TEN",
		},
		{
			name: "non-stackable coupon applies when no offer matched",
			in: Input{
				Subtotal: d("80"),
				Coupon: &Coupon{
					Code: "FLAT100", DiscountType: DiscountFlat, Value: d("100"), Status: StatusActive,
				},
				ShippingCharge: d("10"),
				Tax:            d("0"),
			},
			wantOffer: "0", wantCoupon: "80", wantTotal: "10", wantCode: "FLAT100",
		},
		{
			name: "percentage coupon cap",
			in: Input{
				Subtotal: d("1000"),
				Coupon: &Coupon{
					Code: "HALF", DiscountType: DiscountPercentage, Value: d("50"),
					MaxDiscount: d("100"), Status: StatusActive,
				},
			},
			wantOffer: "0", wantCoupon: "100", wantTotal: "900", wantCode: "HALF",
		},
		{
			name: "cents rounding",
			in: Input{
				Subtotal: d("29.97"),
				Offers:   []Offer{pctOffer(4, "15", "0", "0")},
			},
			// 29.97 * 15% = 4.4955 -> 4.50
			wantOffer: "4.50", wantCoupon: "0", wantTotal: "25.47", wantOfferIDs: []int64{4},
		},
		{
			name: "zero offer discount lets non-stackable coupon apply",
			in: Input{
				Subtotal: d("100"),
				Offers:   []Offer{pctOffer(1, "0", "0", "0")},
				Coupon: &Coupon{
					Code: "FIVE", DiscountType: DiscountFlat, Value: d("5"), Status: StatusActive,
				},
			},
			wantOffer: "0", wantCoupon: "5", wantTotal: "95", wantOfferIDs: []int64{1}, wantCode: "FIVE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.in)

			assert.True(t, d(tt.wantOffer).Equal(got.OfferDiscount), "offer discount %s", got.OfferDiscount)
			assert.True(t, d(tt.wantCoupon).Equal(got.CouponDiscount), "coupon discount %s", got.CouponDiscount)
			assert.True(t, d(tt.wantTotal).Equal(got.Total), "total %s", got.Total)
			assert.Equal(t, tt.wantOfferIDs, got.AppliedOfferIDs)
			assert.Equal(t, tt.wantCode, got.CouponCode)
			if tt.wantReason != "" {
				require.NotNil(t, got.CouponRejection)
				assert.Equal(t, tt.wantReason, got.CouponRejection.Reason)
			}
		})
	}
}

func TestCalculate_Deterministic(t *testing.T) {
	in := Input{
		Subtotal:       d("999.99"),
		Offers:         []Offer{flatOffer(2, "12.34", true), pctOffer(1, "7.5", "60", "100")},
		ShippingCharge: d("49"),
		Tax:            d("17.10"),
	}
	in.Offers[1].Stackable = true

	first := Calculate(in)
	second := Calculate(in)
	assert.Equal(t, first, second)
}

func TestCalculate_Bounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(42, 1))

	randAmount := func(maxCents int) decimal.Decimal {
		return decimal.New(int64(rng.IntN(maxCents)), -2)
	}

	for i := 0; i < 2000; i++ {
		subtotal := randAmount(500_000)

		var offers []Offer
		for j := 0; j < rng.IntN(4); j++ {
			o := Offer{
				ID:        int64(j + 1),
				Priority:  rng.IntN(3),
				Stackable: rng.IntN(2) == 0,
				Status:    StatusActive,
			}
			if rng.IntN(2) == 0 {
				o.DiscountType = DiscountFlat
				o.Value = randAmount(600_000)
			} else {
				o.DiscountType = DiscountPercentage
				o.Value = decimal.NewFromInt(int64(rng.IntN(101)))
				o.MaxDiscount = randAmount(100_000)
			}
			offers = append(offers, o)
		}

		var coupon *Coupon
		if rng.IntN(2) == 0 {
			coupon = &Coupon{
				Code:         "RAND",
				DiscountType: DiscountFlat,
				Value:        randAmount(600_000),
				Stackable:    rng.IntN(2) == 0,
				Status:       StatusActive,
			}
		}

		shipping := randAmount(10_000)
		tax := randAmount(10_000)
		got := Calculate(Input{Subtotal: subtotal, Offers: offers, Coupon: coupon, ShippingCharge: shipping, Tax: tax})

		require.False(t, got.OfferDiscount.IsNegative(), "iteration %d", i)
		require.False(t, got.CouponDiscount.IsNegative(), "iteration %d", i)
		require.True(t, got.OfferDiscount.Add(got.CouponDiscount).LessThanOrEqual(subtotal),
			"iteration %d: discounts %s + %s exceed subtotal %s", i, got.OfferDiscount, got.CouponDiscount, subtotal)
		require.True(t, got.Total.GreaterThanOrEqual(shipping.Add(tax)), "iteration %d", i)

		if coupon != nil && !coupon.Stackable && got.OfferDiscount.IsPositive() {
			require.NotNil(t, got.CouponRejection, "iteration %d", i)
			require.Equal(t, ReasonNotCombinable, got.CouponRejection.Reason)
			require.True(t, got.CouponDiscount.IsZero())
		}
	}
}
