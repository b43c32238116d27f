package promotion

import (
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrCouponRejected is matched by every *RejectionError.
var ErrCouponRejected = errors.New("coupon rejected")

// Reason explains why a coupon did not apply. Values are stable and meant to
// be shown to (or translated for) the customer.
type Reason string

const (
	ReasonNotFound          Reason = "coupon_not_found"
	ReasonInactive          Reason = "coupon_inactive"
	ReasonNotStarted        Reason = "coupon_not_started"
	ReasonExpired           Reason = "coupon_expired"
	ReasonUsageLimitReached Reason = "coupon_usage_limit_reached"
	ReasonUserLimitReached  Reason = "coupon_user_limit_reached"
	ReasonMinAmountNotMet   Reason = "coupon_min_amount_not_met"
	ReasonNotApplicable     Reason = "coupon_not_applicable"
	ReasonNotCombinable     Reason = "coupon_not_combinable"
)

// RejectionError reports a coupon that was typed by the customer but did not apply.
type RejectionError struct {
	Code   string
	Reason Reason
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("coupon %q rejected: %s", e.Code, e.Reason)
}

// Is reports RejectionError as ErrCouponRejected.
func (e *RejectionError) Is(target error) bool {
	return target == ErrCouponRejected
}

func reject(code string, reason Reason) *RejectionError {
	return &RejectionError{Code: code, Reason: reason}
}

// CheckCoupon runs the static coupon checks. priorUses is the number of times
// the customer already redeemed this coupon. It returns nil when the coupon
// may be applied.
func CheckCoupon(c *Coupon, subtotal decimal.Decimal, lines []Line, now time.Time, priorUses int) *RejectionError {
	switch {
	case c.Status != StatusActive:
		return reject(c.Code, ReasonInactive)
	case now.Before(c.Window.Start):
		return reject(c.Code, ReasonNotStarted)
	case !c.Window.Contains(now):
		return reject(c.Code, ReasonExpired)
	case c.UsageLimit > 0 && c.UsedCount >= c.UsageLimit:
		return reject(c.Code, ReasonUsageLimitReached)
	case c.MaxUsagePerUser > 0 && priorUses >= c.MaxUsagePerUser:
		return reject(c.Code, ReasonUserLimitReached)
	case subtotal.LessThan(c.MinAmount):
		return reject(c.Code, ReasonMinAmountNotMet)
	case !c.Scope.Intersects(lines):
		return reject(c.Code, ReasonNotApplicable)
	}
	return nil
}
