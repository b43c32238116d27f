package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/cart"
	"github.com/xenking/kart-ledger/internal/domain/order"
	"github.com/xenking/kart-ledger/internal/domain/outbox"
	"github.com/xenking/kart-ledger/internal/domain/promotion"
	"github.com/xenking/kart-ledger/internal/domain/wallet"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var (
	_ order.Transactor       = (*Store)(nil)
	_ order.Reader           = (*Store)(nil)
	_ wallet.Transactor      = (*Store)(nil)
	_ wallet.Reader          = (*Store)(nil)
	_ promotion.OfferSource  = (*Store)(nil)
	_ promotion.CouponSource = (*Store)(nil)
	_ cart.Repository        = (*Store)(nil)
	_ outbox.Store           = (*Store)(nil)
)

// Store is the PostgreSQL backed persistence of the ledger engine.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store that uses the given pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithinOrderTx runs fn in a READ COMMITTED transaction. Wallet rows are
// locked explicitly and order updates are conditional, so a lost race shows
// up as apperr.ErrConflict rather than a serialization failure.
func (s *Store) WithinOrderTx(ctx context.Context, fn func(order.UnitOfWork) error) error {
	return s.within(ctx, func(tx pgx.Tx) error {
		return fn(unit{q: tx})
	})
}

// WithinWalletTx runs fn in a transaction scoped to the wallet tables.
func (s *Store) WithinWalletTx(ctx context.Context, fn func(wallet.Store) error) error {
	return s.within(ctx, func(tx pgx.Tx) error {
		return fn(wallets{q: tx})
	})
}

func (s *Store) within(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(mapErr(err), "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(mapErr(err), "commit tx")
	}
	return nil
}

type unit struct{ q querier }

func (u unit) Orders() order.Store { return orders{q: u.q} }
func (u unit) Wallets() wallet.Store { return wallets{q: u.q} }
func (u unit) Coupons() promotion.Redeemer { return coupons{q: u.q} }
func (u unit) Carts() cart.Clearer { return carts{q: u.q} }
func (u unit) Outbox() outbox.Writer { return events{q: u.q} }

// NextOrderSeq draws from a database sequence. The value is consumed even
// if the surrounding checkout rolls back.
func (s *Store) NextOrderSeq(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT nextval('order_number_seq')`).Scan(&n); err != nil {
		return 0, errors.Wrap(mapErr(err), "next order sequence")
	}
	return n, nil
}

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const (
	uniqueViolation      = "23505"
	checkViolation       = "23514"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// mapErr translates driver errors into apperr kinds.
func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation, serializationFailure, deadlockDetected:
			return errors.Wrap(apperr.ErrConflict, pgErr.Message)
		case checkViolation:
			return errors.Wrapf(apperr.ErrConflict, "constraint %s", pgErr.ConstraintName)
		}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return errors.Wrap(apperr.ErrUnavailable, err.Error())
	}
	return err
}
