package wallet

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
)

// History is one page of a wallet's transactions, newest first.
type History struct {
	Wallet       Wallet
	Transactions []Transaction
	Total        int
	Page         Page
}

// Service exposes wallet reads and standalone postings. Postings that are
// part of a larger unit of work, like refunds on cancel, use a Ledger bound
// to that unit instead.
type Service struct {
	tx     Transactor
	reader Reader
	now    func() time.Time
}

// NewService creates a wallet Service.
func NewService(tx Transactor, reader Reader) *Service {
	return &Service{tx: tx, reader: reader, now: time.Now}
}

// Balance returns the customer's wallet. A customer without a wallet yet has
// a zero balance.
func (s *Service) Balance(ctx context.Context, userID string) (*Wallet, error) {
	w, err := s.reader.WalletByUser(ctx, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return &Wallet{UserID: userID, Balance: decimal.Zero}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get wallet")
	}
	return w, nil
}

// History returns a page of the customer's transactions.
func (s *Service) History(ctx context.Context, userID string, page Page) (*History, error) {
	page = page.Normalize()

	w, err := s.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	h := &History{Wallet: *w, Page: page}
	if w.ID == "" {
		return h, nil
	}

	txs, total, err := s.reader.ListTransactions(ctx, w.ID, page)
	if err != nil {
		return nil, errors.Wrap(err, "list transactions")
	}
	h.Transactions = txs
	h.Total = total
	return h, nil
}

// Post appends one completed transaction in its own unit of work.
func (s *Service) Post(ctx context.Context, p Posting) (*Transaction, error) {
	var t *Transaction
	err := s.tx.WithinWalletTx(ctx, func(store Store) error {
		var err error
		t, err = s.ledger(store).Post(ctx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	zctx.From(ctx).Info("Wallet transaction posted",
		zap.String("user_id", p.UserID),
		zap.String("type", string(t.Type)),
		zap.String("amount", t.Amount.String()),
	)
	return t, nil
}

// Reconcile checks the customer's cached balance against the ledger and
// returns ErrLedgerMismatch alongside the report when they differ.
func (s *Service) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	var r *Reconciliation
	err := s.tx.WithinWalletTx(ctx, func(store Store) error {
		var err error
		r, err = s.ledger(store).Reconcile(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !r.Consistent() {
		zctx.From(ctx).Error("Wallet ledger mismatch",
			zap.String("wallet_id", r.WalletID),
			zap.String("balance", r.Balance.String()),
			zap.String("ledger_sum", r.LedgerSum.String()),
		)
		return r, ErrLedgerMismatch
	}
	return r, nil
}

func (s *Service) ledger(store Store) *Ledger {
	l := NewLedger(store)
	l.now = s.now
	return l
}
