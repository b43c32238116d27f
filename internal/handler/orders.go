package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-ledger/internal/domain/order"
)

func writeOrder(w http.ResponseWriter, o *order.Order) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeOrder(e, o) })
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), actorOf(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, o)
}

// listOrders lists the caller's orders. Admins may pass ?user_id= to list
// another customer's history.
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	page, err := h.page(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	actor := actorOf(r)
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = actor.ID
	}
	orders, total, err := h.orders.List(r.Context(), actor, userID, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("orders", func(e *jx.Encoder) {
				e.ArrStart()
				for i := range orders {
					encodeOrder(e, &orders[i])
				}
				e.ArrEnd()
			})
			encodePage(e, total, page)
		})
	})
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type requiredReasonRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Cancel(r.Context(), actorOf(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, o)
}

type advanceRequest struct {
	Status string `json:"status" validate:"required,oneof=processing shipping delivered"`
}

func (h *Handler) advanceOrder(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.Advance(r.Context(), actorOf(r), chi.URLParam(r, "id"), order.Status(req.Status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, o)
}

func (h *Handler) requestReturn(w http.ResponseWriter, r *http.Request) {
	var req requiredReasonRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.RequestReturn(r.Context(), actorOf(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, o)
}

func (h *Handler) approveReturn(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.ApproveReturn(r.Context(), actorOf(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, o)
}

func (h *Handler) rejectReturn(w http.ResponseWriter, r *http.Request) {
	var req requiredReasonRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.RejectReturn(r.Context(), actorOf(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, o)
}

type completeReturnRequest struct {
	RefundAmount json.Number `json:"refund_amount" validate:"required,numeric"`
}

func (h *Handler) completeReturn(w http.ResponseWriter, r *http.Request) {
	var req completeReturnRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	refund, err := amount("refund_amount", req.RefundAmount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.MarkReturned(r.Context(), actorOf(r), chi.URLParam(r, "id"), refund)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, o)
}
