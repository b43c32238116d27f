package order

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-ledger/internal/domain/outbox"
)

func writeRef(e *jx.Encoder, o *Order) {
	e.FieldStart("order_id")
	e.Str(o.ID)
	e.FieldStart("order_number")
	e.Str(o.Number)
	e.FieldStart("user_id")
	e.Str(o.UserID)
}

// PlacedEvent announces a new order.
func PlacedEvent(o *Order) outbox.Event {
	return outbox.New(outbox.OrderPlaced, o.ID, o.PlacedAt, func(e *jx.Encoder) {
		writeRef(e, o)
		e.FieldStart("total")
		e.Str(o.Total.StringFixed(2))
		e.FieldStart("payment_method")
		e.Str(string(o.PaymentMethod))
		e.FieldStart("items")
		e.ArrStart()
		for _, it := range o.Items {
			e.ObjStart()
			e.FieldStart("product_id")
			e.Str(it.ProductID)
			e.FieldStart("seller_id")
			e.Str(it.SellerID)
			e.FieldStart("quantity")
			e.Int(it.Quantity)
			e.FieldStart("final_price")
			e.Str(it.FinalPrice.StringFixed(2))
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}

// ChangedEvent describes a status or payment change from prev to o.
func ChangedEvent(prev State, o *Order) outbox.Event {
	typ := outbox.OrderStatusChanged
	switch o.Status {
	case StatusCancelled:
		typ = outbox.OrderCancelled
	case StatusReturned:
		typ = outbox.OrderReturned
	}
	at := o.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	return outbox.New(typ, o.ID, at, func(e *jx.Encoder) {
		writeRef(e, o)
		e.FieldStart("from")
		e.Str(string(prev.Status))
		e.FieldStart("to")
		e.Str(string(o.Status))
		e.FieldStart("payment_status")
		e.Str(string(o.PaymentStatus))
		if o.RefundAmount.Valid {
			e.FieldStart("refund_amount")
			e.Str(o.RefundAmount.Decimal.StringFixed(2))
		}
		if o.CancelReason != "" && o.Status == StatusCancelled {
			e.FieldStart("reason")
			e.Str(o.CancelReason)
		}
	})
}

// PaymentEvent describes a gateway payment result for o.
func PaymentEvent(typ string, o *Order) outbox.Event {
	return outbox.New(typ, o.ID, o.UpdatedAt, func(e *jx.Encoder) {
		writeRef(e, o)
		e.FieldStart("payment_id")
		e.Str(o.PaymentID)
		e.FieldStart("amount")
		e.Str(o.Total.StringFixed(2))
	})
}
