package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/auth"
	"github.com/xenking/kart-ledger/internal/domain/promotion"
	"github.com/xenking/kart-ledger/internal/domain/wallet"
)

// problem is the client-facing form of an error.
type problem struct {
	status  int
	code    string
	message string
	// field is set for validation errors, reason for coupon rejections.
	field  string
	reason string
}

func classify(err error) problem {
	var (
		rejection *promotion.RejectionError
		invalid   *apperr.ValidationError
	)
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		return problem{status: http.StatusUnauthorized, code: "unauthenticated", message: "missing or invalid credentials"}
	case errors.As(err, &rejection):
		return problem{status: http.StatusUnprocessableEntity, code: "coupon_rejected", message: rejection.Error(), reason: string(rejection.Reason)}
	case errors.As(err, &invalid):
		return problem{status: http.StatusBadRequest, code: "validation_failed", message: invalid.Error(), field: invalid.Field}
	case errors.Is(err, apperr.ErrValidation):
		return problem{status: http.StatusBadRequest, code: "validation_failed", message: err.Error()}
	case errors.Is(err, apperr.ErrSignatureInvalid):
		return problem{status: http.StatusBadRequest, code: "signature_invalid", message: "signature invalid"}
	case errors.Is(err, apperr.ErrForbidden):
		return problem{status: http.StatusForbidden, code: "forbidden", message: err.Error()}
	case errors.Is(err, apperr.ErrNotFound):
		return problem{status: http.StatusNotFound, code: "not_found", message: err.Error()}
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return problem{status: http.StatusUnprocessableEntity, code: "insufficient_balance", message: err.Error()}
	case errors.Is(err, apperr.ErrStateViolation):
		return problem{status: http.StatusUnprocessableEntity, code: "state_violation", message: err.Error()}
	case errors.Is(err, apperr.ErrConflict):
		return problem{status: http.StatusConflict, code: "conflict", message: "concurrent modification, retry the request"}
	case errors.Is(err, apperr.ErrUnavailable):
		return problem{status: http.StatusServiceUnavailable, code: "unavailable", message: "temporarily unavailable, retry later"}
	}
	return problem{status: http.StatusInternalServerError, code: "internal", message: "internal server error"}
}

// writeError maps err onto the error envelope
// {"error":{"code","message","field"?,"reason"?}}.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := classify(err)
	lg := zctx.From(r.Context())
	switch {
	case p.status >= http.StatusInternalServerError:
		lg.Error("Request error", zap.Error(err))
	case p.status == http.StatusConflict:
		lg.Info("Request conflicted", zap.Error(err))
	}

	switch p.status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="kart-ledger"`)
	}

	writeJSON(w, p.status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("error", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("code", func(e *jx.Encoder) { e.Str(p.code) })
					e.Field("message", func(e *jx.Encoder) { e.Str(p.message) })
					if p.field != "" {
						e.Field("field", func(e *jx.Encoder) { e.Str(p.field) })
					}
					if p.reason != "" {
						e.Field("reason", func(e *jx.Encoder) { e.Str(p.reason) })
					}
				})
			})
		})
	})
}
