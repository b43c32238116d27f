package postgres

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/wallet"
)

const (
	walletColumns = `id, user_id, balance, created_at, updated_at`

	lockWalletSQL     = `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 FOR UPDATE`
	lockWalletByIDSQL = `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
	getWalletSQL      = `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`

	insertWalletSQL = `INSERT INTO wallets (id, user_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (user_id) DO NOTHING`

	setBalanceSQL = `UPDATE wallets SET balance = $2, updated_at = $3 WHERE id = $1`

	txColumns = `id, wallet_id, amount, type, status, description, external_ref, order_id, created_at`

	insertTransactionSQL = `INSERT INTO wallet_transactions (` + txColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	lockTransactionSQL      = `SELECT ` + txColumns + ` FROM wallet_transactions WHERE id = $1 FOR UPDATE`
	lockTransactionByRefSQL = `SELECT ` + txColumns + ` FROM wallet_transactions
		WHERE external_ref = $1 ORDER BY created_at LIMIT 1 FOR UPDATE`
	refundForOrderSQL = `SELECT ` + txColumns + ` FROM wallet_transactions
		WHERE order_id = $1 AND type = 'refund'`

	setTransactionStatusSQL = `UPDATE wallet_transactions SET status = $2 WHERE id = $1`

	sumCompletedSQL = `SELECT COALESCE(SUM(CASE WHEN type = 'debit' THEN -amount ELSE amount END), 0)
		FROM wallet_transactions WHERE wallet_id = $1 AND status = 'completed'`

	listTransactionsSQL = `SELECT ` + txColumns + `, COUNT(*) OVER ()
		FROM wallet_transactions WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`

	countTransactionsSQL = `SELECT COUNT(*) FROM wallet_transactions WHERE wallet_id = $1`
)

type wallets struct{ q querier }

func (r wallets) LockWallet(ctx context.Context, userID string) (*wallet.Wallet, error) {
	return getWallet(ctx, r.q, lockWalletSQL, userID)
}

func (r wallets) LockWalletByID(ctx context.Context, walletID string) (*wallet.Wallet, error) {
	return getWallet(ctx, r.q, lockWalletByIDSQL, walletID)
}

func (r wallets) EnsureWallet(ctx context.Context, w *wallet.Wallet) (*wallet.Wallet, error) {
	if _, err := r.q.Exec(ctx, insertWalletSQL, w.ID, w.UserID, w.Balance, w.CreatedAt, w.UpdatedAt); err != nil {
		return nil, errors.Wrapf(mapErr(err), "create wallet for %s", w.UserID)
	}
	return r.LockWallet(ctx, w.UserID)
}

func (r wallets) SetBalance(ctx context.Context, walletID string, balance decimal.Decimal, at time.Time) error {
	tag, err := r.q.Exec(ctx, setBalanceSQL, walletID, balance, at)
	if err != nil {
		return errors.Wrapf(mapErr(err), "set balance of wallet %s", walletID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(apperr.ErrNotFound, "wallet %s", walletID)
	}
	return nil
}

func (r wallets) InsertTransaction(ctx context.Context, t *wallet.Transaction) error {
	_, err := r.q.Exec(ctx, insertTransactionSQL,
		t.ID, t.WalletID, t.Amount, t.Type, t.Status, t.Description, t.ExternalRef, t.OrderID, t.CreatedAt,
	)
	if err != nil {
		return errors.Wrapf(mapErr(err), "insert transaction %s", t.ID)
	}
	return nil
}

func (r wallets) LockTransaction(ctx context.Context, id string) (*wallet.Transaction, error) {
	return getTransaction(ctx, r.q, lockTransactionSQL, id)
}

func (r wallets) LockTransactionByRef(ctx context.Context, ref string) (*wallet.Transaction, error) {
	return getTransaction(ctx, r.q, lockTransactionByRefSQL, ref)
}

func (r wallets) SetTransactionStatus(ctx context.Context, id string, status wallet.TxStatus) error {
	tag, err := r.q.Exec(ctx, setTransactionStatusSQL, id, status)
	if err != nil {
		return errors.Wrapf(mapErr(err), "set status of transaction %s", id)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(apperr.ErrNotFound, "transaction %s", id)
	}
	return nil
}

func (r wallets) RefundForOrder(ctx context.Context, orderID string) (*wallet.Transaction, error) {
	return getTransaction(ctx, r.q, refundForOrderSQL, orderID)
}

func (r wallets) SumCompleted(ctx context.Context, walletID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := r.q.QueryRow(ctx, sumCompletedSQL, walletID).Scan(&sum); err != nil {
		return decimal.Zero, errors.Wrapf(mapErr(err), "sum wallet %s", walletID)
	}
	return sum, nil
}

// WalletByUser reads a wallet without locking it.
func (s *Store) WalletByUser(ctx context.Context, userID string) (*wallet.Wallet, error) {
	return getWallet(ctx, s.pool, getWalletSQL, userID)
}

// ListTransactions returns transactions newest first and the total count.
func (s *Store) ListTransactions(ctx context.Context, walletID string, page wallet.Page) ([]wallet.Transaction, int, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx, listTransactionsSQL, walletID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, errors.Wrap(mapErr(err), "list transactions")
	}

	var total int
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (wallet.Transaction, error) {
		return scanTransaction(row, &total)
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "scan transactions")
	}
	if len(list) == 0 && page.Offset > 0 {
		if err := s.pool.QueryRow(ctx, countTransactionsSQL, walletID).Scan(&total); err != nil {
			return nil, 0, errors.Wrap(mapErr(err), "count transactions")
		}
	}
	return list, total, nil
}

func getWallet(ctx context.Context, q querier, sql, arg string) (*wallet.Wallet, error) {
	var w wallet.Wallet
	err := q.QueryRow(ctx, sql, arg).Scan(&w.ID, &w.UserID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, errors.Wrapf(mapErr(err), "wallet %s", arg)
	}
	return &w, nil
}

func getTransaction(ctx context.Context, q querier, sql, arg string) (*wallet.Transaction, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrapf(mapErr(err), "transaction %s", arg)
	}
	t, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (wallet.Transaction, error) {
		return scanTransaction(row)
	})
	if err != nil {
		return nil, errors.Wrapf(mapErr(err), "transaction %s", arg)
	}
	return &t, nil
}

func scanTransaction(row pgx.CollectableRow, extra ...any) (wallet.Transaction, error) {
	var t wallet.Transaction
	dest := []any{
		&t.ID, &t.WalletID, &t.Amount, &t.Type, &t.Status,
		&t.Description, &t.ExternalRef, &t.OrderID, &t.CreatedAt,
	}
	err := row.Scan(append(dest, extra...)...)
	return t, err
}
