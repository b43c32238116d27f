// Package handler serves the JSON HTTP API on top of the domain services.
package handler

import (
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/kart-ledger/internal/domain/cart"
	"github.com/xenking/kart-ledger/internal/domain/checkout"
	"github.com/xenking/kart-ledger/internal/domain/order"
	"github.com/xenking/kart-ledger/internal/domain/payment"
	"github.com/xenking/kart-ledger/internal/domain/wallet"
	"github.com/xenking/kart-ledger/pkg/httpmiddleware"
)

// Options wires a Handler.
type Options struct {
	Checkout *checkout.Service
	Orders   *order.Service
	Payments *payment.Service
	Wallets  *wallet.Service
	Carts    cart.Repository
	Auth     *Authenticator
	// RateLimit runs after authentication so callers are limited by identity.
	// Nil disables it.
	RateLimit httpmiddleware.Middleware
}

// Handler holds the HTTP handlers.
type Handler struct {
	checkout  *checkout.Service
	orders    *order.Service
	payments  *payment.Service
	wallets   *wallet.Service
	carts     cart.Repository
	auth      *Authenticator
	rateLimit httpmiddleware.Middleware
	validate  *validator.Validate
}

// New creates a Handler.
func New(opts Options) *Handler {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		checkout:  opts.Checkout,
		orders:    opts.Orders,
		payments:  opts.Payments,
		wallets:   opts.Wallets,
		carts:     opts.Carts,
		auth:      opts.Auth,
		rateLimit: opts.RateLimit,
		validate:  v,
	}
}

// Routes registers the API on r. The payment webhook authenticates by body
// signature; every other route needs a bearer token or an API key.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/payments/webhook", h.paymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(h.auth.Middleware)
		if h.rateLimit != nil {
			r.Use(h.rateLimit)
		}

		r.Get("/cart", h.getCart)
		r.Put("/cart", h.putCart)

		r.Post("/checkout/preview", h.previewCheckout)
		r.Post("/checkout", h.commitCheckout)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", h.listOrders)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.getOrder)
				r.Post("/cancel", h.cancelOrder)
				r.Post("/advance", h.advanceOrder)
				r.Post("/return", h.requestReturn)
				r.Post("/return/approve", h.approveReturn)
				r.Post("/return/reject", h.rejectReturn)
				r.Post("/return/complete", h.completeReturn)
			})
		})

		r.Post("/payments/verify", h.verifyPayment)

		r.Get("/wallet", h.getWallet)
		r.Get("/wallet/transactions", h.walletHistory)
		r.Post("/wallet/topup", h.topUp)

		r.Route("/admin/wallets/{userID}", func(r chi.Router) {
			r.Get("/reconcile", h.reconcileWallet)
			r.Post("/credit", h.creditWallet)
		})
	})
}
