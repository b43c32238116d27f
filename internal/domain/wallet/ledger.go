package wallet

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
)

// Posting describes a ledger entry to append.
type Posting struct {
	UserID      string
	Amount      decimal.Decimal
	Type        TxType
	Description string
	ExternalRef string
	OrderID     string
}

// normalize rounds the amount to cents and validates the posting. Sub-cent
// amounts round to zero and are rejected.
func (p *Posting) normalize() error {
	p.Amount = p.Amount.Round(2)
	if p.UserID == "" {
		return apperr.Invalid("user_id", "required")
	}
	if !p.Type.Valid() {
		return apperr.Invalid("type", "unknown transaction type")
	}
	if !p.Amount.IsPositive() {
		return apperr.Invalid("amount", "must be positive")
	}
	return nil
}

// Ledger posts transactions against a Store bound to one unit of work. The
// caller owns the transaction: if any Ledger call fails the caller must roll
// back everything written in that unit.
type Ledger struct {
	store Store
	now   func() time.Time
	newID func() string
}

// NewLedger binds a Ledger to a unit-of-work store.
func NewLedger(store Store) *Ledger {
	return &Ledger{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Post appends a completed transaction and moves the balance by its signed
// amount. Credits create the wallet on first use. Debits that would drive the
// balance below zero fail with ErrInsufficientBalance before anything is
// written.
func (l *Ledger) Post(ctx context.Context, p Posting) (*Transaction, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}

	w, err := l.wallet(ctx, p.UserID, p.Type)
	if err != nil {
		return nil, err
	}

	balance := w.Balance.Add(p.Amount.Mul(p.Type.Sign()))
	if balance.IsNegative() {
		return nil, ErrInsufficientBalance
	}

	now := l.now()
	t := &Transaction{
		ID:          l.newID(),
		WalletID:    w.ID,
		Amount:      p.Amount,
		Type:        p.Type,
		Status:      StatusCompleted,
		Description: p.Description,
		ExternalRef: p.ExternalRef,
		OrderID:     p.OrderID,
		CreatedAt:   now,
	}
	if err := l.store.InsertTransaction(ctx, t); err != nil {
		return nil, errors.Wrap(err, "insert transaction")
	}
	if err := l.store.SetBalance(ctx, w.ID, balance, now); err != nil {
		return nil, errors.Wrap(err, "set balance")
	}
	return t, nil
}

// Refund credits amount back to the customer for an order. At most one
// refund exists per order: when one was already posted it is returned with
// created set to false and the balance is left alone.
func (l *Ledger) Refund(ctx context.Context, userID, orderID string, amount decimal.Decimal, description string) (t *Transaction, created bool, err error) {
	if orderID == "" {
		return nil, false, apperr.Invalid("order_id", "required")
	}
	existing, err := l.store.RefundForOrder(ctx, orderID)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, false, errors.Wrap(err, "find refund")
	}

	t, err = l.Post(ctx, Posting{
		UserID:      userID,
		Amount:      amount,
		Type:        TypeRefund,
		Description: description,
		OrderID:     orderID,
	})
	if err != nil {
		return nil, false, err
	}
	return t, true, nil
}

// PostPending records a credit that does not count towards the balance until
// Settle completes it. The wallet is created if needed.
func (l *Ledger) PostPending(ctx context.Context, p Posting) (*Transaction, error) {
	if err := p.normalize(); err != nil {
		return nil, err
	}
	if p.Type == TypeDebit {
		return nil, apperr.Invalid("type", "pending debits are not supported")
	}

	w, err := l.wallet(ctx, p.UserID, p.Type)
	if err != nil {
		return nil, err
	}
	t := &Transaction{
		ID:          l.newID(),
		WalletID:    w.ID,
		Amount:      p.Amount,
		Type:        p.Type,
		Status:      StatusPending,
		Description: p.Description,
		ExternalRef: p.ExternalRef,
		OrderID:     p.OrderID,
		CreatedAt:   l.now(),
	}
	if err := l.store.InsertTransaction(ctx, t); err != nil {
		return nil, errors.Wrap(err, "insert transaction")
	}
	return t, nil
}

// Settle moves a pending transaction to completed or failed. Completing it
// applies its amount to the balance. Settling again to the same status is a
// no-op so duplicate gateway callbacks are harmless.
func (l *Ledger) Settle(ctx context.Context, txID string, status TxStatus) (*Transaction, error) {
	if status != StatusCompleted && status != StatusFailed {
		return nil, apperr.Invalid("status", "must be completed or failed")
	}

	t, err := l.store.LockTransaction(ctx, txID)
	if err != nil {
		return nil, errors.Wrap(err, "lock transaction")
	}
	if t.Status == status {
		return t, nil
	}
	if t.Status != StatusPending {
		return nil, errors.Wrapf(apperr.ErrStateViolation, "transaction %s is %s", t.ID, t.Status)
	}

	if status == StatusCompleted {
		w, err := l.store.LockWalletByID(ctx, t.WalletID)
		if err != nil {
			return nil, errors.Wrap(err, "lock wallet")
		}
		balance := w.Balance.Add(t.Signed())
		if balance.IsNegative() {
			return nil, ErrInsufficientBalance
		}
		if err := l.store.SetBalance(ctx, w.ID, balance, l.now()); err != nil {
			return nil, errors.Wrap(err, "set balance")
		}
	}
	if err := l.store.SetTransactionStatus(ctx, t.ID, status); err != nil {
		return nil, errors.Wrap(err, "set transaction status")
	}
	t.Status = status
	return t, nil
}

// Reconciliation compares the cached balance with the ledger.
type Reconciliation struct {
	WalletID  string
	Balance   decimal.Decimal
	LedgerSum decimal.Decimal
}

// Consistent reports whether the cached balance matches the ledger.
func (r Reconciliation) Consistent() bool {
	return r.Balance.Equal(r.LedgerSum)
}

// Reconcile recomputes the balance from completed transactions.
func (l *Ledger) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	w, err := l.store.LockWallet(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "lock wallet")
	}
	sum, err := l.store.SumCompleted(ctx, w.ID)
	if err != nil {
		return nil, errors.Wrap(err, "sum ledger")
	}
	return &Reconciliation{WalletID: w.ID, Balance: w.Balance, LedgerSum: sum}, nil
}

// wallet locks the customer's wallet. Anything but a debit creates it on demand.
func (l *Ledger) wallet(ctx context.Context, userID string, typ TxType) (*Wallet, error) {
	if typ == TypeDebit {
		w, err := l.store.LockWallet(ctx, userID)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, ErrInsufficientBalance
		}
		if err != nil {
			return nil, errors.Wrap(err, "lock wallet")
		}
		return w, nil
	}

	now := l.now()
	w, err := l.store.EnsureWallet(ctx, &Wallet{
		ID:        l.newID(),
		UserID:    userID,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, errors.Wrap(err, "ensure wallet")
	}
	return w, nil
}
