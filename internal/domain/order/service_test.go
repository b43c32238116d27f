package order_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/auth"
	"github.com/xenking/kart-ledger/internal/domain/order"
	"github.com/xenking/kart-ledger/internal/domain/outbox"
	"github.com/xenking/kart-ledger/internal/domain/wallet"
	"github.com/xenking/kart-ledger/internal/storage/memory"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

var (
	customer = auth.Actor{ID: "cust-1", Role: auth.RoleCustomer}
	stranger = auth.Actor{ID: "cust-2", Role: auth.RoleCustomer}
	seller   = auth.Actor{ID: "seller-1", Role: auth.RoleSeller}
	other    = auth.Actor{ID: "seller-2", Role: auth.RoleSeller}
	admin    = auth.Actor{ID: "admin", Role: auth.RoleAdmin}
)

func seedOrder(t *testing.T, s *memory.Store, mut func(o *order.Order)) *order.Order {
	t.Helper()
	o := &order.Order{
		ID:     "ord-1",
		Number: "ORD000042",
		UserID: customer.ID,
		Items: []order.Item{{
			ProductID: "p1", ProductName: "Sneaker", SellerID: seller.ID,
			Quantity: 1, BasePrice: d("750"), FinalPrice: d("750"),
		}},
		Subtotal:      d("750"),
		Total:         d("750"),
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		PaymentMethod: order.MethodCOD,
		PlacedAt:      time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC),
	}
	if mut != nil {
		mut(o)
	}
	require.NoError(t, s.WithinOrderTx(context.Background(), func(uow order.UnitOfWork) error {
		return uow.Orders().Create(context.Background(), o)
	}))
	return o
}

func paidByWallet(o *order.Order) {
	o.PaymentMethod = order.MethodWallet
	o.PaymentStatus = order.PaymentPaid
	o.Status = order.StatusProcessing
}

func refunds(t *testing.T, s *memory.Store, userID string) []wallet.Transaction {
	t.Helper()
	w, err := s.WalletByUser(context.Background(), userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil
	}
	require.NoError(t, err)
	txs, _, err := s.ListTransactions(context.Background(), w.ID, wallet.Page{Limit: 100})
	require.NoError(t, err)
	var out []wallet.Transaction
	for _, tx := range txs {
		if tx.Type == wallet.TypeRefund {
			out = append(out, tx)
		}
	}
	return out
}

func TestService_CancelShippingOrderFails(t *testing.T) {
	s := memory.New()
	seedOrder(t, s, func(o *order.Order) { o.Status = order.StatusShipping })
	svc := order.NewService(s, s)

	_, err := svc.Cancel(context.Background(), customer, "ord-1", "too slow")
	require.ErrorIs(t, err, apperr.ErrStateViolation)

	var te *order.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, order.StatusShipping, te.From)

	got, err := s.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipping, got.Status)
	assert.Empty(t, s.Events())
}

func TestService_CancelWalletOrderRefunds(t *testing.T) {
	s := memory.New()
	seedOrder(t, s, paidByWallet)
	svc := order.NewService(s, s)

	got, err := svc.Cancel(context.Background(), customer, "ord-1", "found it cheaper")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)
	assert.Equal(t, order.PaymentRefunded, got.PaymentStatus)
	assert.Equal(t, "found it cheaper", got.CancelReason)

	w, err := s.WalletByUser(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.True(t, d("750").Equal(w.Balance), "balance %s", w.Balance)

	rs := refunds(t, s, customer.ID)
	require.Len(t, rs, 1)
	assert.Equal(t, "ORD000042", rs[0].OrderID)
	assert.Equal(t, wallet.StatusCompleted, rs[0].Status)

	var types []string
	for _, ev := range s.Events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{outbox.WalletTransactionPosted, outbox.OrderCancelled}, types)
}

func TestService_CancelUnpaidOrderDoesNotRefund(t *testing.T) {
	s := memory.New()
	seedOrder(t, s, nil)
	svc := order.NewService(s, s)

	got, err := svc.Cancel(context.Background(), customer, "ord-1", "")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)
	assert.Equal(t, order.PaymentPending, got.PaymentStatus)
	assert.Empty(t, refunds(t, s, customer.ID))
}

func TestService_ConcurrentCancelRefundsOnce(t *testing.T) {
	s := memory.New()
	seedOrder(t, s, paidByWallet)
	svc := order.NewService(s, s)

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failures  []error
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Cancel(context.Background(), customer, "ord-1", "race")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	for _, err := range failures {
		assert.True(t, errors.Is(err, apperr.ErrStateViolation) || errors.Is(err, apperr.ErrConflict), "unexpected %v", err)
	}
	assert.Len(t, refunds(t, s, customer.ID), 1)

	w, err := s.WalletByUser(context.Background(), customer.ID)
	require.NoError(t, err)
	assert.True(t, d("750").Equal(w.Balance))
}

// failingRefunds makes every wallet write fail inside the unit of work.
type failingRefunds struct {
	*memory.Store
}

type failingUnit struct {
	order.UnitOfWork
}

type failingWallet struct {
	wallet.Store
}

func (failingWallet) InsertTransaction(context.Context, *wallet.Transaction) error {
	return errors.New("ledger unavailable")
}

func (u failingUnit) Wallets() wallet.Store { return failingWallet{u.UnitOfWork.Wallets()} }

func (f failingRefunds) WithinOrderTx(ctx context.Context, fn func(order.UnitOfWork) error) error {
	return f.Store.WithinOrderTx(ctx, func(uow order.UnitOfWork) error {
		return fn(failingUnit{uow})
	})
}

func TestService_RefundFailureAbortsCancel(t *testing.T) {
	s := memory.New()
	seedOrder(t, s, paidByWallet)
	svc := order.NewService(failingRefunds{s}, s)

	_, err := svc.Cancel(context.Background(), customer, "ord-1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger unavailable")

	got, err := s.GetOrder(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, got.Status)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
	assert.Empty(t, refunds(t, s, customer.ID))
	assert.Empty(t, s.Events())
}

func TestService_Authorization(t *testing.T) {
	tests := []struct {
		name    string
		actor   auth.Actor
		op      func(svc *order.Service, a auth.Actor) error
		wantErr error
	}{
		{
			name:  "owner views",
			actor: customer,
			op:    func(svc *order.Service, a auth.Actor) error { _, err := svc.Get(context.Background(), a, "ord-1"); return err },
		},
		{
			name:    "other customer cannot view",
			actor:   stranger,
			op:      func(svc *order.Service, a auth.Actor) error { _, err := svc.Get(context.Background(), a, "ord-1"); return err },
			wantErr: apperr.ErrForbidden,
		},
		{
			name:    "other customer cannot cancel",
			actor:   stranger,
			op:      func(svc *order.Service, a auth.Actor) error { _, err := svc.Cancel(context.Background(), a, "ord-1", ""); return err },
			wantErr: apperr.ErrForbidden,
		},
		{
			name:    "customer cannot advance",
			actor:   customer,
			op:      advance(order.StatusProcessing),
			wantErr: apperr.ErrForbidden,
		},
		{
			name:  "seller of an item advances",
			actor: seller,
			op:    advance(order.StatusProcessing),
		},
		{
			name:    "unrelated seller is forbidden",
			actor:   other,
			op:      advance(order.StatusProcessing),
			wantErr: apperr.ErrForbidden,
		},
		{
			name:  "admin advances",
			actor: admin,
			op:    advance(order.StatusProcessing),
		},
		{
			name:    "unknown order is not found",
			actor:   admin,
			op:      func(svc *order.Service, a auth.Actor) error { _, err := svc.Get(context.Background(), a, "nope"); return err },
			wantErr: apperr.ErrNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memory.New()
			seedOrder(t, s, nil)
			err := tt.op(order.NewService(s, s), tt.actor)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantErr == apperr.ErrForbidden {
				assert.NotErrorIs(t, err, apperr.ErrNotFound)
			}
		})
	}
}

func advance(to order.Status) func(svc *order.Service, a auth.Actor) error {
	return func(svc *order.Service, a auth.Actor) error {
		_, err := svc.Advance(context.Background(), a, "ord-1", to)
		return err
	}
}

func TestService_ReturnRefundsOnce(t *testing.T) {
	s := memory.New()
	seedOrder(t, s, func(o *order.Order) {
		o.Status = order.StatusDelivered
		o.PaymentStatus = order.PaymentPaid
		o.PaymentMethod = order.MethodOnline
	})
	svc := order.NewService(s, s)
	ctx := context.Background()

	_, err := svc.RequestReturn(ctx, customer, "ord-1", "too small")
	require.NoError(t, err)

	_, err = svc.ApproveReturn(ctx, customer, "ord-1")
	require.ErrorIs(t, err, apperr.ErrForbidden, "customers cannot review their own return")

	_, err = svc.ApproveReturn(ctx, seller, "ord-1")
	require.NoError(t, err)

	got, err := svc.MarkReturned(ctx, seller, "ord-1", d("300"))
	require.NoError(t, err)
	assert.Equal(t, order.StatusReturned, got.Status)
	assert.Equal(t, order.PaymentRefunded, got.PaymentStatus)
	assert.True(t, got.RefundAmount.Valid)

	rs := refunds(t, s, customer.ID)
	require.Len(t, rs, 1)
	assert.True(t, d("300").Equal(rs[0].Amount))
	assert.Equal(t, "ORD000042", rs[0].OrderID)
}

func TestService_ReturnSkipsRefundAlreadyIssued(t *testing.T) {
	s := memory.New()
	seedOrder(t, s, func(o *order.Order) {
		o.Status = order.StatusReturnApproved
		o.PaymentStatus = order.PaymentPaid
	})
	ctx := context.Background()

	require.NoError(t, s.WithinWalletTx(ctx, func(ws wallet.Store) error {
		_, _, err := wallet.NewLedger(ws).Refund(ctx, customer.ID, "ORD000042", d("100"), "goodwill")
		return err
	}))

	_, err := order.NewService(s, s).MarkReturned(ctx, admin, "ord-1", d("300"))
	require.NoError(t, err)

	rs := refunds(t, s, customer.ID)
	require.Len(t, rs, 1)
	assert.True(t, d("100").Equal(rs[0].Amount))
}

func TestService_List(t *testing.T) {
	s := memory.New()
	seedOrder(t, s, nil)
	seedOrder(t, s, func(o *order.Order) {
		o.ID, o.Number = "ord-2", "ORD000043"
		o.PlacedAt = o.PlacedAt.Add(time.Hour)
	})
	svc := order.NewService(s, s)

	list, total, err := svc.List(context.Background(), customer, "", order.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, list, 2)
	assert.Equal(t, "ORD000043", list[0].Number)

	_, _, err = svc.List(context.Background(), stranger, customer.ID, order.Page{})
	require.ErrorIs(t, err, apperr.ErrForbidden)
}
