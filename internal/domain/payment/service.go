package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/auth"
	"github.com/xenking/kart-ledger/internal/domain/order"
	"github.com/xenking/kart-ledger/internal/domain/outbox"
	"github.com/xenking/kart-ledger/internal/domain/wallet"
)

// Options wires a Service.
type Options struct {
	Orders order.Transactor
	// Payments verifies checkout callbacks, Webhooks verifies webhook bodies.
	Payments *Verifier
	Webhooks *Verifier
	Gateway  Gateway
	Deduper  Deduper
	Meter    metric.MeterProvider
}

// Service applies verified payment results.
type Service struct {
	orders   order.Transactor
	payments *Verifier
	webhooks *Verifier
	gateway  Gateway
	dedup    Deduper
	now      func() time.Time

	webhookEvents metric.Int64Counter
}

// NewService creates a payment Service.
func NewService(opts Options) (*Service, error) {
	if opts.Deduper == nil {
		opts.Deduper = NopDeduper{}
	}
	if opts.Meter == nil {
		opts.Meter = otel.GetMeterProvider()
	}
	events, err := opts.Meter.Meter("kart-ledger/payment").Int64Counter("payment.webhook.events",
		metric.WithDescription("Payment webhook deliveries by event and outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create webhook counter")
	}
	return &Service{
		orders:        opts.Orders,
		payments:      opts.Payments,
		webhooks:      opts.Webhooks,
		gateway:       opts.Gateway,
		dedup:         opts.Deduper,
		now:           time.Now,
		webhookEvents: events,
	}, nil
}

// Confirmation is the callback a customer's browser relays after paying.
type Confirmation struct {
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

// ConfirmPayment verifies c and marks the order paid. The payment status, the
// move to processing and the cleared cart are written in one unit of work.
// Confirming the same payment again returns the order unchanged.
func (s *Service) ConfirmPayment(ctx context.Context, actor auth.Actor, c Confirmation) (*order.Order, error) {
	if err := s.payments.VerifyPayment(c.GatewayOrderID, c.PaymentID, c.Signature); err != nil {
		zctx.From(ctx).Warn("Payment signature rejected",
			zap.String("gateway_order_id", c.GatewayOrderID),
			zap.String("payment_id", c.PaymentID),
			zap.String("actor", actor.ID),
		)
		return nil, err
	}

	var out *order.Order
	err := s.orders.WithinOrderTx(ctx, func(uow order.UnitOfWork) error {
		o, err := uow.Orders().GetByGatewayOrder(ctx, c.GatewayOrderID)
		if err != nil {
			return errors.Wrap(err, "get order")
		}
		if err := order.Authorize(actor, o, order.ActionView); err != nil {
			return err
		}
		out, err = s.capture(ctx, uow, o, c.PaymentID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) capture(ctx context.Context, uow order.UnitOfWork, o *order.Order, paymentID string) (*order.Order, error) {
	if o.PaymentStatus == order.PaymentPaid && o.PaymentID == paymentID {
		return o, nil
	}
	prev := o.State()
	next, err := order.MarkPaid(*o, paymentID, s.now())
	if err != nil {
		return nil, err
	}
	if err := uow.Orders().Update(ctx, &next, prev); err != nil {
		return nil, errors.Wrap(err, "update order")
	}
	if err := uow.Carts().Clear(ctx, next.UserID); err != nil {
		return nil, errors.Wrap(err, "clear cart")
	}
	if err := uow.Outbox().Append(ctx, order.PaymentEvent(outbox.PaymentCaptured, &next)); err != nil {
		return nil, errors.Wrap(err, "append event")
	}
	if prev.Status != next.Status {
		if err := uow.Outbox().Append(ctx, order.ChangedEvent(prev, &next)); err != nil {
			return nil, errors.Wrap(err, "append event")
		}
	}

	zctx.From(ctx).Info("Payment captured",
		zap.String("order_number", next.Number),
		zap.String("payment_id", paymentID),
	)
	return &next, nil
}

// Webhook outcomes recorded on the webhook counter.
const (
	outcomeApplied   = "applied"
	outcomeIgnored   = "ignored"
	outcomeDuplicate = "duplicate"
	outcomeRejected  = "rejected"
)

// HandleWebhook authenticates and applies a gateway webhook. Deliveries that
// cannot be matched to an order or top-up, or that no longer apply, are
// logged and acknowledged. Only signature, parse and store failures are
// returned.
func (s *Service) HandleWebhook(ctx context.Context, eventID string, body []byte, signature string) error {
	lg := zctx.From(ctx)
	if err := s.webhooks.VerifyBody(body, signature); err != nil {
		lg.Warn("Webhook signature rejected", zap.String("event_id", eventID))
		s.record(ctx, "unknown", outcomeRejected)
		return err
	}
	ev, err := ParseEvent(body)
	if err != nil {
		return err
	}
	if eventID == "" {
		eventID = ev.Name + ":" + ev.Payment.ID
	}
	ctx = zctx.With(ctx,
		zap.String("event_id", eventID),
		zap.String("event", ev.Name),
		zap.String("payment_id", ev.Payment.ID),
		zap.String("gateway_order_id", ev.Payment.GatewayOrderID),
	)
	lg = zctx.From(ctx)

	seen, err := s.dedup.Seen(ctx, eventID)
	if err != nil {
		lg.Warn("Webhook dedup lookup failed", zap.Error(err))
	}
	if seen {
		lg.Debug("Webhook already applied")
		s.record(ctx, ev.Name, outcomeDuplicate)
		return nil
	}

	var applied bool
	switch ev.Name {
	case EventPaymentCaptured:
		applied, err = s.apply(ctx, ev.Payment, true)
	case EventPaymentFailed:
		applied, err = s.apply(ctx, ev.Payment, false)
	default:
		lg.Info("Ignoring webhook event")
	}
	if err != nil {
		return err
	}

	outcome := outcomeIgnored
	if applied {
		outcome = outcomeApplied
	}
	s.record(ctx, ev.Name, outcome)

	if err := s.dedup.Mark(ctx, eventID); err != nil {
		lg.Warn("Webhook dedup mark failed", zap.Error(err))
	}
	return nil
}

func (s *Service) record(ctx context.Context, event, outcome string) {
	s.webhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", event),
		attribute.String("outcome", outcome),
	))
}

// apply routes a payment result to a wallet top-up or an order.
func (s *Service) apply(ctx context.Context, p Entity, captured bool) (bool, error) {
	if p.Notes[NotePurpose] == PurposeWalletTopUp {
		return s.settleTopUp(ctx, p, captured)
	}
	return s.settleOrder(ctx, p, captured)
}

func (s *Service) settleOrder(ctx context.Context, p Entity, captured bool) (bool, error) {
	lg := zctx.From(ctx)
	applied := false
	err := s.orders.WithinOrderTx(ctx, func(uow order.UnitOfWork) error {
		o, err := uow.Orders().GetByGatewayOrder(ctx, p.GatewayOrderID)
		if errors.Is(err, apperr.ErrNotFound) {
			lg.Warn("Webhook references unknown order")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "get order")
		}

		if !captured {
			prev := o.State()
			next, err := order.MarkPaymentFailed(*o, p.ID, s.now())
			if err != nil {
				lg.Info("Payment failure no longer applies", zap.String("payment_status", string(o.PaymentStatus)))
				return nil
			}
			if err := uow.Orders().Update(ctx, &next, prev); err != nil {
				return errors.Wrap(err, "update order")
			}
			applied = true
			return uow.Outbox().Append(ctx, order.PaymentEvent(outbox.PaymentFailed, &next))
		}

		if !p.Amount.Equal(o.Total) {
			lg.Error("Captured amount does not match order total",
				zap.String("amount", p.Amount.String()),
				zap.String("total", o.Total.String()),
			)
			return nil
		}
		next, err := s.capture(ctx, uow, o, p.ID)
		switch {
		case errors.Is(err, apperr.ErrStateViolation) && o.Status == order.StatusCancelled:
			applied, err = s.refundLateCapture(ctx, uow, o, p)
			return err
		case errors.Is(err, apperr.ErrStateViolation):
			lg.Warn("Captured payment no longer applies", zap.Error(err))
			return nil
		case err != nil:
			return err
		}
		applied = next != o
		return nil
	})
	return applied, err
}

// refundLateCapture credits a payment captured after its order was cancelled
// to the customer's wallet and records the payment on the order as refunded.
// Ledger refunds are keyed by order number, so a redelivery posts nothing.
func (s *Service) refundLateCapture(ctx context.Context, uow order.UnitOfWork, o *order.Order, p Entity) (bool, error) {
	lg := zctx.From(ctx).With(
		zap.String("order_number", o.Number),
		zap.String("payment_id", p.ID),
	)
	if o.PaymentStatus == order.PaymentRefunded && o.PaymentID == p.ID {
		return false, nil
	}
	if o.PaymentStatus == order.PaymentPaid || o.PaymentStatus == order.PaymentRefunded {
		lg.Warn("Captured payment no longer applies", zap.String("payment_status", string(o.PaymentStatus)))
		return false, nil
	}

	t, created, err := wallet.NewLedger(uow.Wallets()).Refund(ctx, o.UserID, o.Number, p.Amount,
		"Refund for payment captured after cancellation of order "+o.Number)
	if err != nil {
		return false, errors.Wrap(err, "refund to wallet")
	}
	if created {
		if err := uow.Outbox().Append(ctx, wallet.PostedEvent(t, o.UserID)); err != nil {
			return false, errors.Wrap(err, "append event")
		}
	}

	prev := o.State()
	next := *o
	next.PaymentID = p.ID
	next.PaymentStatus = order.PaymentRefunded
	next.UpdatedAt = s.now()
	if err := uow.Orders().Update(ctx, &next, prev); err != nil {
		return false, errors.Wrap(err, "update order")
	}
	if err := uow.Outbox().Append(ctx, order.PaymentEvent(outbox.PaymentCaptured, &next)); err != nil {
		return false, errors.Wrap(err, "append event")
	}

	lg.Warn("Payment captured after cancellation, refunded to wallet",
		zap.String("amount", p.Amount.StringFixed(2)),
		zap.String("transaction_id", t.ID),
	)
	return true, nil
}

func (s *Service) settleTopUp(ctx context.Context, p Entity, captured bool) (bool, error) {
	lg := zctx.From(ctx)
	status := wallet.StatusFailed
	if captured {
		status = wallet.StatusCompleted
	}
	applied := false
	err := s.orders.WithinOrderTx(ctx, func(uow order.UnitOfWork) error {
		t, err := uow.Wallets().LockTransactionByRef(ctx, p.GatewayOrderID)
		if errors.Is(err, apperr.ErrNotFound) {
			lg.Warn("Webhook references unknown top-up")
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "lock top-up")
		}
		if captured && !p.Amount.Equal(t.Amount) {
			lg.Error("Captured amount does not match top-up",
				zap.String("amount", p.Amount.String()),
				zap.String("expected", t.Amount.String()),
			)
			return nil
		}
		if t.Status == status {
			return nil
		}

		settled, err := wallet.NewLedger(uow.Wallets()).Settle(ctx, t.ID, status)
		if errors.Is(err, apperr.ErrStateViolation) {
			lg.Warn("Top-up already settled", zap.String("status", string(t.Status)))
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "settle top-up")
		}
		applied = true
		if status != wallet.StatusCompleted {
			return nil
		}
		return uow.Outbox().Append(ctx, wallet.PostedEvent(settled, p.Notes[NoteUserID]))
	})
	return applied, err
}

// TopUp is a pending wallet credit awaiting payment.
type TopUp struct {
	Transaction *wallet.Transaction
	Order       *GatewayOrder
}

// StartTopUp opens a gateway order for amount and records a pending credit
// that a captured webhook completes.
func (s *Service) StartTopUp(ctx context.Context, actor auth.Actor, amount decimal.Decimal) (*TopUp, error) {
	if !actor.IsCustomer() {
		return nil, errors.Wrap(apperr.ErrForbidden, "only customers top up wallets")
	}
	amount = amount.Round(2)
	if !amount.IsPositive() {
		return nil, apperr.Invalid("amount", "must be positive")
	}

	gwOrder, err := s.gateway.CreateOrder(ctx, OrderRequest{
		Amount:  amount,
		Receipt: "topup_" + uuid.New().String()[:8],
		Notes: map[string]string{
			NoteUserID:  actor.ID,
			NotePurpose: PurposeWalletTopUp,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create gateway order")
	}

	var t *wallet.Transaction
	err = s.orders.WithinOrderTx(ctx, func(uow order.UnitOfWork) error {
		t, err = wallet.NewLedger(uow.Wallets()).PostPending(ctx, wallet.Posting{
			UserID:      actor.ID,
			Amount:      amount,
			Type:        wallet.TypeCredit,
			Description: "Wallet top-up",
			ExternalRef: gwOrder.ID,
		})
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "record top-up")
	}

	zctx.From(ctx).Info("Wallet top-up started",
		zap.String("user_id", actor.ID),
		zap.String("gateway_order_id", gwOrder.ID),
		zap.String("amount", amount.String()),
	)
	return &TopUp{Transaction: t, Order: gwOrder}, nil
}
