package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
)

func TestVerifier_Payment(t *testing.T) {
	v := NewVerifier("s3cret")
	sig := v.SignPayment("order_9A33XWu170gUtm", "pay_29QQoUBi66xm2f")

	tests := []struct {
		name      string
		orderID   string
		paymentID string
		signature string
		wantErr   bool
	}{
		{name: "valid", orderID: "order_9A33XWu170gUtm", paymentID: "pay_29QQoUBi66xm2f", signature: sig},
		{name: "other payment", orderID: "order_9A33XWu170gUtm", paymentID: "pay_other", signature: sig, wantErr: true},
		{name: "other order", orderID: "order_other", paymentID: "pay_29QQoUBi66xm2f", signature: sig, wantErr: true},
		{name: "malformed hex", orderID: "order_9A33XWu170gUtm", paymentID: "pay_29QQoUBi66xm2f", signature: "zz", wantErr: true},
		{name: "empty", orderID: "order_9A33XWu170gUtm", paymentID: "pay_29QQoUBi66xm2f", wantErr: true},
		{name: "missing payment id", orderID: "order_9A33XWu170gUtm", signature: sig, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.VerifyPayment(tt.orderID, tt.paymentID, tt.signature)
			if tt.wantErr {
				require.ErrorIs(t, err, apperr.ErrSignatureInvalid)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestVerifier_OtherSecret(t *testing.T) {
	sig := NewVerifier("a").SignPayment("o", "p")
	require.ErrorIs(t, NewVerifier("b").VerifyPayment("o", "p", sig), apperr.ErrSignatureInvalid)
	require.ErrorIs(t, NewVerifier("").VerifyPayment("o", "p", sig), apperr.ErrSignatureInvalid)
}

func TestVerifier_Body(t *testing.T) {
	v := NewVerifier("whsec")
	body := []byte(`{"event":"payment.captured"}`)
	sig := v.SignBody(body)

	require.NoError(t, v.VerifyBody(body, sig))
	require.ErrorIs(t, v.VerifyBody([]byte(`{"event":"payment.failed"}`), sig), apperr.ErrSignatureInvalid)
	assert.Len(t, sig, 64)
}

func TestParseEvent(t *testing.T) {
	body := []byte(`{
		"entity": "event",
		"event": "payment.captured",
		"contains": ["payment"],
		"payload": {
			"payment": {
				"entity": {
					"id": "pay_1",
					"amount": 75050,
					"currency": "INR",
					"status": "captured",
					"order_id": "order_1",
					"notes": {"userId": "cust-1", "orderNumber": "ORD000042", "attempt": 2}
				}
			}
		},
		"created_at": 1700000000
	}`)
	ev, err := ParseEvent(body)
	require.NoError(t, err)
	assert.Equal(t, EventPaymentCaptured, ev.Name)
	assert.Equal(t, "pay_1", ev.Payment.ID)
	assert.Equal(t, "order_1", ev.Payment.GatewayOrderID)
	assert.Equal(t, "750.5", ev.Payment.Amount.String())
	assert.Equal(t, map[string]string{"userId": "cust-1", "orderNumber": "ORD000042"}, ev.Payment.Notes)
}

func TestParseEvent_Loose(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"event":"refund.processed","payload":{"payment":{"entity":{"id":"pay_2","order_id":null,"notes":[]}}}}`))
	require.NoError(t, err)
	assert.Equal(t, "refund.processed", ev.Name)
	assert.Empty(t, ev.Payment.GatewayOrderID)
	assert.Empty(t, ev.Payment.Notes)

	_, err = ParseEvent([]byte(`{"payload":{}}`))
	require.ErrorIs(t, err, apperr.ErrValidation)
	_, err = ParseEvent([]byte(`not json`))
	require.ErrorIs(t, err, apperr.ErrValidation)
}
