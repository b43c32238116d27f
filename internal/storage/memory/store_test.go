package memory

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/order"
	"github.com/xenking/kart-ledger/internal/domain/outbox"
	"github.com/xenking/kart-ledger/internal/domain/promotion"
	"github.com/xenking/kart-ledger/internal/domain/wallet"
)

func TestStore_RollbackOnError(t *testing.T) {
	s := New()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithinOrderTx(ctx, func(uow order.UnitOfWork) error {
		require.NoError(t, uow.Orders().Create(ctx, &order.Order{ID: "o1", Number: "ORD000001", UserID: "u1"}))
		_, err := wallet.NewLedger(uow.Wallets()).Post(ctx, wallet.Posting{
			UserID: "u1", Amount: decimal.NewFromInt(5), Type: wallet.TypeCredit,
		})
		require.NoError(t, err)
		require.NoError(t, uow.Outbox().Append(ctx, outbox.New(outbox.OrderPlaced, "o1", time.Now(), nil)))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetOrder(ctx, "o1")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = s.WalletByUser(ctx, "u1")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, s.Events())
}

func TestStore_SequenceSurvivesRollback(t *testing.T) {
	s := New()
	ctx := context.Background()

	_ = s.WithinOrderTx(ctx, func(order.UnitOfWork) error {
		n, err := s.NextOrderSeq(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return errors.New("abort checkout")
	})

	n, err := s.NextOrderSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStore_ConditionalUpdate(t *testing.T) {
	s := New()
	ctx := context.Background()

	o := &order.Order{ID: "o1", Number: "ORD000001", Status: order.StatusPending, PaymentStatus: order.PaymentPending}
	require.NoError(t, s.WithinOrderTx(ctx, func(uow order.UnitOfWork) error {
		return uow.Orders().Create(ctx, o)
	}))

	stale := o.State()
	next := *o
	next.Status = order.StatusProcessing
	require.NoError(t, s.WithinOrderTx(ctx, func(uow order.UnitOfWork) error {
		return uow.Orders().Update(ctx, &next, stale)
	}))

	again := *o
	again.Status = order.StatusCancelled
	err := s.WithinOrderTx(ctx, func(uow order.UnitOfWork) error {
		return uow.Orders().Update(ctx, &again, stale)
	})
	require.ErrorIs(t, err, apperr.ErrConflict)

	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, got.Status)
}

func TestStore_DuplicateOrderNumber(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.WithinOrderTx(ctx, func(uow order.UnitOfWork) error {
		if err := uow.Orders().Create(ctx, &order.Order{ID: "a", Number: "ORD000001"}); err != nil {
			return err
		}
		return uow.Orders().Create(ctx, &order.Order{ID: "b", Number: "ORD000001"})
	})
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestStore_RedeemCouponGuardsLimits(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.PutCoupon(promotion.Coupon{ID: 1, Code: "once", UsageLimit: 2, MaxUsagePerUser: 1, Status: promotion.StatusActive})

	c, err := s.FindCouponByCode(ctx, " ONCE ")
	require.NoError(t, err)

	redeem := func(user string) error {
		return s.WithinOrderTx(ctx, func(uow order.UnitOfWork) error {
			return uow.Coupons().RedeemCoupon(ctx, c, promotion.Usage{CouponID: c.ID, UserID: user})
		})
	}

	require.NoError(t, redeem("u1"))

	var rej *promotion.RejectionError
	require.ErrorAs(t, redeem("u1"), &rej)
	assert.Equal(t, promotion.ReasonUserLimitReached, rej.Reason)

	require.NoError(t, redeem("u2"))
	require.ErrorAs(t, redeem("u3"), &rej)
	assert.Equal(t, promotion.ReasonUsageLimitReached, rej.Reason)

	assert.Len(t, s.CouponUsages(1), 2)
	n, err := s.CountCouponUsage(ctx, 1, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_OutboxClaimLease(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.WithinOrderTx(ctx, func(uow order.UnitOfWork) error {
		for range 3 {
			if err := uow.Outbox().Append(ctx, outbox.New(outbox.OrderPlaced, "o", now, nil)); err != nil {
				return err
			}
		}
		return nil
	}))

	first, err := s.Claim(ctx, 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := s.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, second, 1, "leased events are skipped")

	require.NoError(t, s.Release(ctx, []string{first[0].ID}, "broker down"))
	require.NoError(t, s.MarkPublished(ctx, []string{first[1].ID, second[0].ID}, now))

	third, err := s.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, third, 1)
	assert.Equal(t, first[0].ID, third[0].ID)
	assert.Equal(t, 2, third[0].Attempts)
}
