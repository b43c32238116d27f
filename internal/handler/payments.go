package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/payment"
)

// Webhook headers set by the payment gateway.
const (
	WebhookSignatureHeader = "X-Webhook-Signature"
	WebhookEventIDHeader   = "X-Webhook-Event-Id"
)

type verifyPaymentRequest struct {
	GatewayOrderID string `json:"gateway_order_id" validate:"required,max=128"`
	PaymentID      string `json:"payment_id" validate:"required,max=128"`
	Signature      string `json:"signature" validate:"required,hexadecimal"`
}

// verifyPayment applies the signed result the customer's browser relays
// after paying online.
func (h *Handler) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.payments.ConfirmPayment(r.Context(), actorOf(r), payment.Confirmation{
		GatewayOrderID: req.GatewayOrderID,
		PaymentID:      req.PaymentID,
		Signature:      req.Signature,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeOrder(w, o)
}

// paymentWebhook answers 200 {"status":"ok"} for every delivery that was
// applied, duplicated or ignored, so the gateway stops retrying it.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, errors.Wrap(apperr.ErrValidation, "read webhook body"))
		return
	}
	err = h.payments.HandleWebhook(r.Context(),
		r.Header.Get(WebhookEventIDHeader),
		body,
		r.Header.Get(WebhookSignatureHeader),
	)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) { str(e, "status", "ok") })
	})
}
