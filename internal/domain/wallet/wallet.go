// Package wallet implements the customer wallet and its append-only ledger.
//
// The balance stored on a Wallet is a cache of the ledger: it always equals
// the signed sum of the wallet's completed transactions. Ledger is the only
// code that changes it.
package wallet

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-ledger/internal/domain/paging"
)

var (
	// ErrInsufficientBalance is returned when a debit would make the balance negative.
	ErrInsufficientBalance = errors.New("insufficient wallet balance")
	// ErrLedgerMismatch is returned by reconciliation when the cached balance
	// differs from the ledger sum.
	ErrLedgerMismatch = errors.New("wallet balance does not match ledger")
)

// TxType is the kind of a ledger transaction.
type TxType string

const (
	TypeCredit   TxType = "credit"
	TypeDebit    TxType = "debit"
	TypeRefund   TxType = "refund"
	TypeCashback TxType = "cashback"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TypeCredit, TypeDebit, TypeRefund, TypeCashback:
		return true
	}
	return false
}

// Sign returns the direction a transaction of type t moves the balance.
func (t TxType) Sign() decimal.Decimal {
	if t == TypeDebit {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// TxStatus is the settlement state of a transaction. Only completed
// transactions count towards the balance.
type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusCompleted TxStatus = "completed"
	StatusFailed    TxStatus = "failed"
	StatusReversed  TxStatus = "reversed"
)

// Wallet holds a customer's spendable balance.
type Wallet struct {
	ID        string
	UserID    string
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction is an immutable ledger row. Amount is always positive; Type
// gives the direction.
type Transaction struct {
	ID          string
	WalletID    string
	Amount      decimal.Decimal
	Type        TxType
	Status      TxStatus
	Description string
	ExternalRef string
	// OrderID references the order by its human order number.
	OrderID   string
	CreatedAt time.Time
}

// Signed returns the amount with the sign of its type.
func (t Transaction) Signed() decimal.Decimal {
	return t.Amount.Mul(t.Type.Sign())
}

// Page selects a slice of the transaction history.
type Page = paging.Page

// Store is the wallet persistence bound to one unit of work. Every method
// observes and participates in the same atomic transaction.
type Store interface {
	// LockWallet loads the customer's wallet and holds it for the rest of the
	// unit of work. It returns apperr.ErrNotFound when the customer has none.
	LockWallet(ctx context.Context, userID string) (*Wallet, error)
	LockWalletByID(ctx context.Context, walletID string) (*Wallet, error)
	// EnsureWallet inserts w unless the customer already has a wallet, then
	// returns the customer's wallet locked like LockWallet.
	EnsureWallet(ctx context.Context, w *Wallet) (*Wallet, error)
	SetBalance(ctx context.Context, walletID string, balance decimal.Decimal, at time.Time) error
	InsertTransaction(ctx context.Context, t *Transaction) error
	// LockTransaction returns apperr.ErrNotFound for unknown ids.
	LockTransaction(ctx context.Context, id string) (*Transaction, error)
	// LockTransactionByRef finds a transaction by its external reference, or
	// returns apperr.ErrNotFound.
	LockTransactionByRef(ctx context.Context, ref string) (*Transaction, error)
	SetTransactionStatus(ctx context.Context, id string, status TxStatus) error
	// RefundForOrder returns the refund posted for the order, or apperr.ErrNotFound.
	RefundForOrder(ctx context.Context, orderID string) (*Transaction, error)
	SumCompleted(ctx context.Context, walletID string) (decimal.Decimal, error)
}

// Reader serves read-only queries outside of a unit of work.
type Reader interface {
	// WalletByUser returns apperr.ErrNotFound when the customer has no wallet yet.
	WalletByUser(ctx context.Context, userID string) (*Wallet, error)
	// ListTransactions returns transactions newest first and the total count.
	ListTransactions(ctx context.Context, walletID string, page Page) ([]Transaction, int, error)
}

// Transactor runs fn inside one atomic unit of work. If fn returns an error
// nothing it wrote is kept.
type Transactor interface {
	WithinWalletTx(ctx context.Context, fn func(Store) error) error
}
