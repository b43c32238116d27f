package handler

import (
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-ledger/internal/domain/cart"
	"github.com/xenking/kart-ledger/internal/domain/order"
	"github.com/xenking/kart-ledger/internal/domain/payment"
	"github.com/xenking/kart-ledger/internal/domain/promotion"
	"github.com/xenking/kart-ledger/internal/domain/wallet"
)

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// Money travels as a string with two decimals so clients never see float
// rounding.
func money(e *jx.Encoder, name string, d decimal.Decimal) {
	e.Field(name, func(e *jx.Encoder) { e.Str(d.StringFixed(2)) })
}

func str(e *jx.Encoder, name, v string) {
	e.Field(name, func(e *jx.Encoder) { e.Str(v) })
}

func optStr(e *jx.Encoder, name, v string) {
	if v != "" {
		str(e, name, v)
	}
}

func timestamp(e *jx.Encoder, name string, t time.Time) {
	e.Field(name, func(e *jx.Encoder) { e.Str(t.UTC().Format(time.RFC3339Nano)) })
}

func optTimestamp(e *jx.Encoder, name string, t *time.Time) {
	if t != nil {
		timestamp(e, name, *t)
	}
}

func integer(e *jx.Encoder, name string, v int) {
	e.Field(name, func(e *jx.Encoder) { e.Int(v) })
}

func encodeCart(e *jx.Encoder, c *cart.Cart) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "user_id", c.UserID)
		e.Field("items", func(e *jx.Encoder) {
			e.ArrStart()
			for _, it := range c.Items {
				e.Obj(func(e *jx.Encoder) {
					str(e, "product_id", it.ProductID)
					optStr(e, "variant_id", it.VariantID)
					integer(e, "quantity", it.Quantity)
				})
			}
			e.ArrEnd()
		})
		if !c.UpdatedAt.IsZero() {
			timestamp(e, "updated_at", c.UpdatedAt)
		}
	})
}

func encodeItems(e *jx.Encoder, items []order.Item) {
	e.ArrStart()
	for _, it := range items {
		e.Obj(func(e *jx.Encoder) {
			str(e, "product_id", it.ProductID)
			str(e, "product_name", it.ProductName)
			optStr(e, "variant_id", it.VariantID)
			optStr(e, "variant_name", it.VariantName)
			optStr(e, "seller_id", it.SellerID)
			integer(e, "quantity", it.Quantity)
			money(e, "base_price", it.BasePrice)
			e.Field("discount_percent", func(e *jx.Encoder) { e.Str(it.DiscountPercent.String()) })
			money(e, "final_price", it.FinalPrice)
			money(e, "line_total", it.LineTotal())
			if len(it.Attributes) > 0 {
				e.Field("attributes", func(e *jx.Encoder) {
					e.Obj(func(e *jx.Encoder) {
						for _, k := range slices.Sorted(maps.Keys(it.Attributes)) {
							str(e, k, it.Attributes[k])
						}
					})
				})
			}
			optStr(e, "image_url", it.ImageURL)
		})
	}
	e.ArrEnd()
}

func encodeOfferIDs(e *jx.Encoder, ids []int64) {
	e.Field("applied_offer_ids", func(e *jx.Encoder) {
		e.ArrStart()
		for _, id := range ids {
			e.Int64(id)
		}
		e.ArrEnd()
	})
}

func encodeBreakdown(e *jx.Encoder, b promotion.Breakdown) {
	e.Obj(func(e *jx.Encoder) {
		money(e, "subtotal", b.Subtotal)
		money(e, "offer_discount", b.OfferDiscount)
		money(e, "coupon_discount", b.CouponDiscount)
		money(e, "shipping_charge", b.ShippingCharge)
		money(e, "tax", b.Tax)
		money(e, "total", b.Total)
		encodeOfferIDs(e, b.AppliedOfferIDs)
		optStr(e, "coupon_code", b.CouponCode)
		if rej := b.CouponRejection; rej != nil {
			e.Field("coupon_rejection", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					str(e, "code", rej.Code)
					str(e, "reason", string(rej.Reason))
				})
			})
		}
	})
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", o.ID)
		str(e, "order_number", o.Number)
		str(e, "user_id", o.UserID)
		str(e, "status", string(o.Status))
		str(e, "payment_status", string(o.PaymentStatus))
		str(e, "payment_method", string(o.PaymentMethod))
		optStr(e, "gateway_order_id", o.GatewayOrderID)
		optStr(e, "payment_id", o.PaymentID)
		e.Field("items", func(e *jx.Encoder) { encodeItems(e, o.Items) })
		money(e, "subtotal", o.Subtotal)
		money(e, "offer_discount", o.OfferDiscount)
		money(e, "coupon_discount", o.CouponDiscount)
		money(e, "shipping_charge", o.ShippingCharge)
		money(e, "tax", o.Tax)
		money(e, "total", o.Total)
		encodeOfferIDs(e, o.AppliedOfferIDs)
		optStr(e, "coupon_code", o.CouponCode)
		if o.RefundAmount.Valid {
			money(e, "refund_amount", o.RefundAmount.Decimal)
		}
		optStr(e, "cancel_reason", o.CancelReason)
		optStr(e, "return_reason", o.ReturnReason)
		optStr(e, "reject_reason", o.RejectReason)
		timestamp(e, "placed_at", o.PlacedAt)
		timestamp(e, "updated_at", o.UpdatedAt)
		optTimestamp(e, "delivered_at", o.DeliveredAt)
		optTimestamp(e, "cancelled_at", o.CancelledAt)
	})
}

func encodeGatewayOrder(e *jx.Encoder, g *payment.GatewayOrder) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "gateway_order_id", g.ID)
		money(e, "amount", g.Amount)
		optStr(e, "currency", g.Currency)
		optStr(e, "receipt", g.Receipt)
	})
}

func encodeWallet(e *jx.Encoder, w *wallet.Wallet) {
	e.Obj(func(e *jx.Encoder) {
		optStr(e, "id", w.ID)
		str(e, "user_id", w.UserID)
		money(e, "balance", w.Balance)
		if !w.UpdatedAt.IsZero() {
			timestamp(e, "updated_at", w.UpdatedAt)
		}
	})
}

func encodeTransaction(e *jx.Encoder, t *wallet.Transaction) {
	e.Obj(func(e *jx.Encoder) {
		str(e, "id", t.ID)
		str(e, "wallet_id", t.WalletID)
		str(e, "type", string(t.Type))
		str(e, "status", string(t.Status))
		money(e, "amount", t.Amount)
		optStr(e, "description", t.Description)
		optStr(e, "order_number", t.OrderID)
		optStr(e, "external_ref", t.ExternalRef)
		timestamp(e, "created_at", t.CreatedAt)
	})
}

func encodePage(e *jx.Encoder, total int, page order.Page) {
	integer(e, "total", total)
	integer(e, "limit", page.Limit)
	integer(e, "offset", page.Offset)
}
