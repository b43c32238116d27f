package order

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
)

// TransitionError reports a forbidden status change. It matches
// apperr.ErrStateViolation.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == apperr.ErrStateViolation
}

var validNext = map[Status]map[Status]bool{
	StatusPending:         {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing:      {StatusShipping: true, StatusCancelled: true},
	StatusShipping:        {StatusDelivered: true},
	StatusDelivered:       {StatusReturnRequested: true},
	StatusReturnRequested: {StatusReturnApproved: true, StatusReturnRejected: true},
	StatusReturnApproved:  {StatusReturned: true},
	StatusCancelled:       {},
	StatusReturnRejected:  {},
	StatusReturned:        {},
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// The functions below are pure: they take an order by value and return the
// next version of it or a *TransitionError. Persisting the result is up to
// the caller.

func move(o Order, to Status, at time.Time) (Order, error) {
	if !CanTransition(o.Status, to) {
		return o, &TransitionError{From: o.Status, To: to}
	}
	o.Status = to
	o.UpdatedAt = at
	return o, nil
}

// Cancel moves a pending or processing order to cancelled.
func Cancel(o Order, reason string, at time.Time) (Order, error) {
	next, err := move(o, StatusCancelled, at)
	if err != nil {
		return o, err
	}
	next.CancelReason = reason
	next.CancelledAt = &at
	return next, nil
}

// CancelRefund returns the amount owed back to the customer's wallet when o
// is cancelled. Only wallet-paid orders are refunded to the wallet.
func CancelRefund(o Order) (decimal.Decimal, bool) {
	if o.PaymentStatus != PaymentPaid || o.PaymentMethod != MethodWallet {
		return decimal.Zero, false
	}
	return o.Total, o.Total.IsPositive()
}

// MarkProcessing moves a pending order forward.
func MarkProcessing(o Order, at time.Time) (Order, error) {
	return move(o, StatusProcessing, at)
}

// MarkShipping moves a processing order forward.
func MarkShipping(o Order, at time.Time) (Order, error) {
	return move(o, StatusShipping, at)
}

// MarkDelivered moves a shipping order forward. Cash on delivery is settled
// at this point.
func MarkDelivered(o Order, at time.Time) (Order, error) {
	next, err := move(o, StatusDelivered, at)
	if err != nil {
		return o, err
	}
	next.DeliveredAt = &at
	if next.PaymentMethod == MethodCOD && next.PaymentStatus == PaymentPending {
		next.PaymentStatus = PaymentPaid
	}
	return next, nil
}

// Advance applies the single forward step that leads to to.
func Advance(o Order, to Status, at time.Time) (Order, error) {
	switch to {
	case StatusProcessing:
		return MarkProcessing(o, at)
	case StatusShipping:
		return MarkShipping(o, at)
	case StatusDelivered:
		return MarkDelivered(o, at)
	default:
		return o, &TransitionError{From: o.Status, To: to}
	}
}

// RequestReturn opens a return on a delivered order.
func RequestReturn(o Order, reason string, at time.Time) (Order, error) {
	next, err := move(o, StatusReturnRequested, at)
	if err != nil {
		return o, err
	}
	next.ReturnReason = reason
	return next, nil
}

// ApproveReturn accepts a requested return.
func ApproveReturn(o Order, at time.Time) (Order, error) {
	return move(o, StatusReturnApproved, at)
}

// RejectReturn declines a requested return. The order stays with the customer.
func RejectReturn(o Order, reason string, at time.Time) (Order, error) {
	next, err := move(o, StatusReturnRejected, at)
	if err != nil {
		return o, err
	}
	next.RejectReason = reason
	return next, nil
}

// MarkReturned closes an approved return and records the refund owed. The
// amount must lie within [0, Total].
func MarkReturned(o Order, refund decimal.Decimal, at time.Time) (Order, error) {
	if refund.IsNegative() {
		return o, apperr.Invalid("refund_amount", "must not be negative")
	}
	if refund.GreaterThan(o.Total) {
		return o, apperr.Invalid("refund_amount", "must not exceed the order total")
	}
	next, err := move(o, StatusReturned, at)
	if err != nil {
		return o, err
	}
	next.RefundAmount = decimal.NewNullDecimal(refund.Round(2))
	return next, nil
}

// ReturnRefund returns the amount owed to the wallet for a returned order.
func ReturnRefund(o Order) (decimal.Decimal, bool) {
	if o.Status != StatusReturned || !o.RefundAmount.Valid || o.PaymentStatus != PaymentPaid {
		return decimal.Zero, false
	}
	return o.RefundAmount.Decimal, o.RefundAmount.Decimal.IsPositive()
}

// ErrPaymentSettled is returned when a payment result arrives for an order
// whose payment is no longer pending.
var ErrPaymentSettled = errors.Wrap(apperr.ErrStateViolation, "payment already settled")

// MarkPaid records a verified payment. A pending order starts processing.
func MarkPaid(o Order, paymentID string, at time.Time) (Order, error) {
	if o.PaymentStatus != PaymentPending && o.PaymentStatus != PaymentFailed {
		return o, ErrPaymentSettled
	}
	next := o
	switch o.Status {
	case StatusPending:
		next, _ = move(o, StatusProcessing, at)
	case StatusProcessing:
	default:
		return o, &TransitionError{From: o.Status, To: StatusProcessing}
	}
	next.PaymentStatus = PaymentPaid
	next.PaymentID = paymentID
	next.UpdatedAt = at
	return next, nil
}

// MarkPaymentFailed records a failed gateway payment. The order stays pending
// so the customer can pay again.
func MarkPaymentFailed(o Order, paymentID string, at time.Time) (Order, error) {
	if o.PaymentStatus != PaymentPending {
		return o, ErrPaymentSettled
	}
	o.PaymentStatus = PaymentFailed
	o.PaymentID = paymentID
	o.UpdatedAt = at
	return o, nil
}
