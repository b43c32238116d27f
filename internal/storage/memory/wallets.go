package memory

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/wallet"
)

type wallets struct{ u *unit }

func (w wallets) LockWallet(_ context.Context, userID string) (*wallet.Wallet, error) {
	found, ok := w.u.d.wallets[userID]
	if !ok {
		return nil, errors.Wrapf(apperr.ErrNotFound, "wallet of %s", userID)
	}
	return &found, nil
}

func (w wallets) LockWalletByID(_ context.Context, walletID string) (*wallet.Wallet, error) {
	for _, found := range w.u.d.wallets {
		if found.ID == walletID {
			return &found, nil
		}
	}
	return nil, errors.Wrapf(apperr.ErrNotFound, "wallet %s", walletID)
}

func (w wallets) EnsureWallet(ctx context.Context, nw *wallet.Wallet) (*wallet.Wallet, error) {
	if _, ok := w.u.d.wallets[nw.UserID]; !ok {
		w.u.d.wallets[nw.UserID] = *nw
	}
	return w.LockWallet(ctx, nw.UserID)
}

func (w wallets) SetBalance(_ context.Context, walletID string, balance decimal.Decimal, at time.Time) error {
	if balance.IsNegative() {
		return errors.Wrap(apperr.ErrConflict, "wallet balance must not be negative")
	}
	for user, found := range w.u.d.wallets {
		if found.ID == walletID {
			found.Balance = balance
			found.UpdatedAt = at
			w.u.d.wallets[user] = found
			return nil
		}
	}
	return errors.Wrapf(apperr.ErrNotFound, "wallet %s", walletID)
}

func (w wallets) InsertTransaction(_ context.Context, t *wallet.Transaction) error {
	for _, existing := range w.u.d.txs {
		if existing.ID == t.ID {
			return errors.Wrapf(apperr.ErrConflict, "transaction %s already exists", t.ID)
		}
		if t.Type == wallet.TypeRefund && existing.Type == wallet.TypeRefund && existing.OrderID == t.OrderID {
			return errors.Wrapf(apperr.ErrConflict, "order %s already refunded", t.OrderID)
		}
	}
	w.u.d.txs = append(w.u.d.txs, *t)
	return nil
}

func (w wallets) find(match func(t wallet.Transaction) bool) (*wallet.Transaction, bool) {
	for _, t := range w.u.d.txs {
		if match(t) {
			return &t, true
		}
	}
	return nil, false
}

func (w wallets) LockTransaction(_ context.Context, id string) (*wallet.Transaction, error) {
	if t, ok := w.find(func(t wallet.Transaction) bool { return t.ID == id }); ok {
		return t, nil
	}
	return nil, errors.Wrapf(apperr.ErrNotFound, "transaction %s", id)
}

func (w wallets) LockTransactionByRef(_ context.Context, ref string) (*wallet.Transaction, error) {
	if t, ok := w.find(func(t wallet.Transaction) bool { return ref != "" && t.ExternalRef == ref }); ok {
		return t, nil
	}
	return nil, errors.Wrapf(apperr.ErrNotFound, "transaction with reference %s", ref)
}

func (w wallets) SetTransactionStatus(_ context.Context, id string, status wallet.TxStatus) error {
	for i := range w.u.d.txs {
		if w.u.d.txs[i].ID == id {
			w.u.d.txs[i].Status = status
			return nil
		}
	}
	return errors.Wrapf(apperr.ErrNotFound, "transaction %s", id)
}

func (w wallets) RefundForOrder(_ context.Context, orderID string) (*wallet.Transaction, error) {
	if t, ok := w.find(func(t wallet.Transaction) bool {
		return t.Type == wallet.TypeRefund && t.OrderID == orderID
	}); ok {
		return t, nil
	}
	return nil, errors.Wrapf(apperr.ErrNotFound, "refund for order %s", orderID)
}

func (w wallets) SumCompleted(_ context.Context, walletID string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, t := range w.u.d.txs {
		if t.WalletID == walletID && t.Status == wallet.StatusCompleted {
			sum = sum.Add(t.Signed())
		}
	}
	return sum, nil
}

// WalletByUser implements wallet.Reader.
func (s *Store) WalletByUser(ctx context.Context, userID string) (*wallet.Wallet, error) {
	var (
		out *wallet.Wallet
		err error
	)
	s.locked(func(d *data) {
		out, err = wallets{&unit{d: d}}.LockWallet(ctx, userID)
	})
	return out, err
}

// ListTransactions implements wallet.Reader.
func (s *Store) ListTransactions(_ context.Context, walletID string, page wallet.Page) ([]wallet.Transaction, int, error) {
	var list []wallet.Transaction
	s.locked(func(d *data) {
		for _, t := range slices.Backward(d.txs) {
			if t.WalletID == walletID {
				list = append(list, t)
			}
		}
	})
	slices.SortStableFunc(list, func(a, b wallet.Transaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return paginate(list, page.Normalize())
}
