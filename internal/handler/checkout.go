package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/cart"
	"github.com/xenking/kart-ledger/internal/domain/checkout"
	"github.com/xenking/kart-ledger/internal/domain/order"
)

type cartItemRequest struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	VariantID string `json:"variant_id" validate:"max=64"`
	Quantity  int    `json:"quantity" validate:"required,min=1,max=100"`
}

type putCartRequest struct {
	Items []cartItemRequest `json:"items" validate:"max=50,dive"`
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	if !actor.IsCustomer() {
		writeError(w, r, errors.Wrap(apperr.ErrForbidden, "only customers have carts"))
		return
	}
	c, err := h.carts.GetCart(r.Context(), actor.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, c) })
}

// putCart replaces the caller's cart. Products are resolved at checkout.
func (h *Handler) putCart(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	if !actor.IsCustomer() {
		writeError(w, r, errors.Wrap(apperr.ErrForbidden, "only customers have carts"))
		return
	}
	var req putCartRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	c := &cart.Cart{UserID: actor.ID, UpdatedAt: time.Now()}
	for _, it := range req.Items {
		c.Items = append(c.Items, cart.Item{ProductID: it.ProductID, VariantID: it.VariantID, Quantity: it.Quantity})
	}
	if err := c.Validate(); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.carts.SaveCart(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCart(e, c) })
}

type previewRequest struct {
	CouponCode string `json:"coupon_code" validate:"max=64"`
}

func (h *Handler) previewCheckout(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.checkout.Preview(r.Context(), actorOf(r), req.CouponCode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("items", func(e *jx.Encoder) { encodeItems(e, q.Items) })
			e.Field("breakdown", func(e *jx.Encoder) { encodeBreakdown(e, q.Breakdown) })
		})
	})
}

type commitRequest struct {
	CouponCode    string `json:"coupon_code" validate:"max=64"`
	PaymentMethod string `json:"payment_method" validate:"required,oneof=wallet cod online"`
}

func (h *Handler) commitCheckout(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.checkout.Commit(r.Context(), actorOf(r), checkout.Request{
		CouponCode:    req.CouponCode,
		PaymentMethod: order.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("order", func(e *jx.Encoder) { encodeOrder(e, res.Order) })
			e.Field("breakdown", func(e *jx.Encoder) { encodeBreakdown(e, res.Breakdown) })
			if res.Payment != nil {
				e.Field("payment", func(e *jx.Encoder) { encodeGatewayOrder(e, res.Payment) })
			}
		})
	})
}
