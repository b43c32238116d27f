package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/auth"
	"github.com/xenking/kart-ledger/internal/domain/cart"
	"github.com/xenking/kart-ledger/internal/domain/outbox"
	"github.com/xenking/kart-ledger/internal/domain/promotion"
	"github.com/xenking/kart-ledger/internal/domain/wallet"
)

// UnitOfWork exposes every store that takes part in an order mutation. All
// of them share one atomic transaction.
type UnitOfWork interface {
	Orders() Store
	Wallets() wallet.Store
	Coupons() promotion.Redeemer
	Carts() cart.Clearer
	Outbox() outbox.Writer
}

// Transactor runs fn inside one atomic unit of work. If fn returns an error
// nothing it wrote is kept.
type Transactor interface {
	WithinOrderTx(ctx context.Context, fn func(UnitOfWork) error) error
}

// Service drives order transitions after checkout.
type Service struct {
	tx     Transactor
	reader Reader
	now    func() time.Time
}

// NewService creates an order Service.
func NewService(tx Transactor, reader Reader) *Service {
	return &Service{tx: tx, reader: reader, now: time.Now}
}

// Get returns an order the actor may view.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (*Order, error) {
	o, err := s.reader.GetOrder(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if err := Authorize(actor, o, ActionView); err != nil {
		return nil, err
	}
	return o, nil
}

// List returns a customer's orders. Customers may only list their own.
func (s *Service) List(ctx context.Context, actor auth.Actor, userID string, page Page) ([]Order, int, error) {
	if userID == "" {
		userID = actor.ID
	}
	if !actor.IsAdmin() && !(actor.IsCustomer() && actor.ID == userID) {
		return nil, 0, errors.Wrap(apperr.ErrForbidden, "list orders")
	}
	orders, total, err := s.reader.ListOrders(ctx, userID, page.Normalize())
	if err != nil {
		return nil, 0, errors.Wrap(err, "list orders")
	}
	return orders, total, nil
}

// Cancel cancels a pending or processing order. A wallet-paid order is
// refunded to the wallet first, in the same unit of work, so a failed refund
// leaves the order untouched.
func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id, reason string) (*Order, error) {
	return s.mutate(ctx, actor, id, ActionCancel, func(ctx context.Context, uow UnitOfWork, o Order, at time.Time) (Order, error) {
		next, err := Cancel(o, reason, at)
		if err != nil {
			return o, err
		}
		if amount, ok := CancelRefund(o); ok {
			if err := refund(ctx, uow, &o, amount, "Refund for cancelled order "+o.Number); err != nil {
				return o, err
			}
			next.PaymentStatus = PaymentRefunded
		}
		return next, nil
	})
}

// Advance moves the order one step along pending, processing, shipping,
// delivered.
func (s *Service) Advance(ctx context.Context, actor auth.Actor, id string, to Status) (*Order, error) {
	return s.mutate(ctx, actor, id, ActionAdvance, func(_ context.Context, _ UnitOfWork, o Order, at time.Time) (Order, error) {
		return Advance(o, to, at)
	})
}

// RequestReturn opens a return on a delivered order.
func (s *Service) RequestReturn(ctx context.Context, actor auth.Actor, id, reason string) (*Order, error) {
	return s.mutate(ctx, actor, id, ActionRequestReturn, func(_ context.Context, _ UnitOfWork, o Order, at time.Time) (Order, error) {
		return RequestReturn(o, reason, at)
	})
}

// ApproveReturn accepts a requested return.
func (s *Service) ApproveReturn(ctx context.Context, actor auth.Actor, id string) (*Order, error) {
	return s.mutate(ctx, actor, id, ActionReviewReturn, func(_ context.Context, _ UnitOfWork, o Order, at time.Time) (Order, error) {
		return ApproveReturn(o, at)
	})
}

// RejectReturn declines a requested return.
func (s *Service) RejectReturn(ctx context.Context, actor auth.Actor, id, reason string) (*Order, error) {
	return s.mutate(ctx, actor, id, ActionReviewReturn, func(_ context.Context, _ UnitOfWork, o Order, at time.Time) (Order, error) {
		return RejectReturn(o, reason, at)
	})
}

// MarkReturned closes an approved return and credits refundAmount to the
// customer's wallet, at most once per order.
func (s *Service) MarkReturned(ctx context.Context, actor auth.Actor, id string, refundAmount decimal.Decimal) (*Order, error) {
	return s.mutate(ctx, actor, id, ActionReviewReturn, func(ctx context.Context, uow UnitOfWork, o Order, at time.Time) (Order, error) {
		next, err := MarkReturned(o, refundAmount, at)
		if err != nil {
			return o, err
		}
		if amount, ok := ReturnRefund(next); ok {
			if err := refund(ctx, uow, &o, amount, "Refund for returned order "+o.Number); err != nil {
				return o, err
			}
			next.PaymentStatus = PaymentRefunded
		}
		return next, nil
	})
}

type mutation func(ctx context.Context, uow UnitOfWork, o Order, at time.Time) (Order, error)

// mutate loads the order, authorizes the actor, applies fn and writes the
// result conditionally on the state it was read in.
func (s *Service) mutate(ctx context.Context, actor auth.Actor, id string, action Action, fn mutation) (*Order, error) {
	var (
		out  *Order
		prev State
	)
	err := s.tx.WithinOrderTx(ctx, func(uow UnitOfWork) error {
		o, err := uow.Orders().Get(ctx, id)
		if err != nil {
			return errors.Wrap(err, "get order")
		}
		if err := Authorize(actor, o, action); err != nil {
			return err
		}
		prev = o.State()

		next, err := fn(ctx, uow, *o, s.now())
		if err != nil {
			return err
		}
		if err := uow.Orders().Update(ctx, &next, prev); err != nil {
			return errors.Wrap(err, "update order")
		}
		if err := uow.Outbox().Append(ctx, ChangedEvent(prev, &next)); err != nil {
			return errors.Wrap(err, "append event")
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order updated",
		zap.String("order_id", out.ID),
		zap.String("order_number", out.Number),
		zap.String("action", string(action)),
		zap.String("from", string(prev.Status)),
		zap.String("to", string(out.Status)),
		zap.String("actor", actor.ID),
	)
	return out, nil
}

// refund credits amount to the order's customer. A refund already posted for
// the order is not repeated.
func refund(ctx context.Context, uow UnitOfWork, o *Order, amount decimal.Decimal, description string) error {
	t, created, err := wallet.NewLedger(uow.Wallets()).Refund(ctx, o.UserID, o.Number, amount, description)
	if err != nil {
		return errors.Wrap(err, "refund to wallet")
	}
	if !created {
		zctx.From(ctx).Info("Refund already issued",
			zap.String("order_number", o.Number),
			zap.String("transaction_id", t.ID),
		)
		return nil
	}
	if err := uow.Outbox().Append(ctx, wallet.PostedEvent(t, o.UserID)); err != nil {
		return errors.Wrap(err, "append event")
	}
	return nil
}
