// Package payment authenticates gateway callbacks and applies their effects
// to orders and wallet top-ups.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
)

// Verifier checks gateway signatures: HMAC-SHA256 in lowercase hex, keyed
// with a server-held secret and compared in constant time.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// SignPayment returns the signature the gateway attaches to a checkout
// callback for the given gateway order and payment.
func (v *Verifier) SignPayment(gatewayOrderID, paymentID string) string {
	return v.sign([]byte(gatewayOrderID + "|" + paymentID))
}

// VerifyPayment checks a checkout callback signature.
func (v *Verifier) VerifyPayment(gatewayOrderID, paymentID, signature string) error {
	if gatewayOrderID == "" || paymentID == "" {
		return errors.Wrap(apperr.ErrSignatureInvalid, "missing payment reference")
	}
	return v.check([]byte(gatewayOrderID+"|"+paymentID), signature)
}

// SignBody returns the signature of a raw webhook body.
func (v *Verifier) SignBody(body []byte) string {
	return v.sign(body)
}

// VerifyBody checks the signature of a raw webhook body.
func (v *Verifier) VerifyBody(body []byte, signature string) error {
	return v.check(body, signature)
}

func (v *Verifier) sign(msg []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil))
}

func (v *Verifier) check(msg []byte, signature string) error {
	if len(v.secret) == 0 {
		return errors.Wrap(apperr.ErrSignatureInvalid, "no secret configured")
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return errors.Wrap(apperr.ErrSignatureInvalid, "malformed signature")
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(msg)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return apperr.ErrSignatureInvalid
	}
	return nil
}
