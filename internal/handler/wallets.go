package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/wallet"
)

func (h *Handler) getWallet(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	if !actor.IsCustomer() {
		writeError(w, r, errors.Wrap(apperr.ErrForbidden, "only customers have wallets"))
		return
	}
	wl, err := h.wallets.Balance(r.Context(), actor.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeWallet(e, wl) })
}

func (h *Handler) walletHistory(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	if !actor.IsCustomer() {
		writeError(w, r, errors.Wrap(apperr.ErrForbidden, "only customers have wallets"))
		return
	}
	page, err := h.page(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	hist, err := h.wallets.History(r.Context(), actor.ID, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("wallet", func(e *jx.Encoder) { encodeWallet(e, &hist.Wallet) })
			e.Field("transactions", func(e *jx.Encoder) {
				e.ArrStart()
				for i := range hist.Transactions {
					encodeTransaction(e, &hist.Transactions[i])
				}
				e.ArrEnd()
			})
			encodePage(e, hist.Total, hist.Page)
		})
	})
}

type topUpRequest struct {
	Amount json.Number `json:"amount" validate:"required,numeric"`
}

func (h *Handler) topUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amt, err := amount("amount", req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.payments.StartTopUp(r.Context(), actorOf(r), amt)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("transaction", func(e *jx.Encoder) { encodeTransaction(e, t.Transaction) })
			e.Field("payment", func(e *jx.Encoder) { encodeGatewayOrder(e, t.Order) })
		})
	})
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if actorOf(r).IsAdmin() {
		return true
	}
	writeError(w, r, errors.Wrap(apperr.ErrForbidden, "admin only"))
	return false
}

// reconcileWallet reports whether the cached balance matches the ledger. A
// mismatch is a finding, not a request failure.
func (h *Handler) reconcileWallet(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	rec, err := h.wallets.Reconcile(r.Context(), chi.URLParam(r, "userID"))
	if err != nil && !errors.Is(err, wallet.ErrLedgerMismatch) {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			str(e, "wallet_id", rec.WalletID)
			money(e, "balance", rec.Balance)
			money(e, "ledger_sum", rec.LedgerSum)
			e.Field("consistent", func(e *jx.Encoder) { e.Bool(rec.Consistent()) })
		})
	})
}

type creditRequest struct {
	Amount      json.Number `json:"amount" validate:"required,numeric"`
	Type        string      `json:"type" validate:"required,oneof=credit cashback"`
	Description string      `json:"description" validate:"required,max=255"`
	ExternalRef string      `json:"external_ref" validate:"max=128"`
}

// creditWallet posts a manual credit or cashback, e.g. a goodwill gesture.
func (h *Handler) creditWallet(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}
	var req creditRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	amt, err := amount("amount", req.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := h.wallets.Post(r.Context(), wallet.Posting{
		UserID:      chi.URLParam(r, "userID"),
		Amount:      amt,
		Type:        wallet.TxType(req.Type),
		Description: req.Description,
		ExternalRef: req.ExternalRef,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeTransaction(e, t) })
}
