package promotion

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType enumerates how a discount value is interpreted.
type DiscountType string

const (
	// DiscountPercentage takes Value percent of the base amount, capped at MaxDiscount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFlat takes Value off the base amount.
	DiscountFlat DiscountType = "flat"
)

// Valid reports whether t is a known discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFlat
}

// Status is the lifecycle state of an offer or coupon. Promotions are never
// hard-deleted, only moved out of StatusActive.
type Status string

const (
	StatusActive   Status = "active"
	StatusExpired  Status = "expired"
	StatusDisabled Status = "disabled"
)

// Line is the part of a cart line a promotion scope cares about.
type Line struct {
	ProductID  string
	CategoryID string
}

// Scope restricts a promotion to categories and/or products. An empty scope
// applies to every product.
type Scope struct {
	CategoryIDs []string
	ProductIDs  []string
}

// All reports whether the scope is unrestricted.
func (s Scope) All() bool {
	return len(s.CategoryIDs) == 0 && len(s.ProductIDs) == 0
}

// Intersects reports whether at least one line falls inside the scope.
func (s Scope) Intersects(lines []Line) bool {
	if s.All() {
		return len(lines) > 0
	}
	for _, l := range lines {
		if slices.Contains(s.ProductIDs, l.ProductID) || slices.Contains(s.CategoryIDs, l.CategoryID) {
			return true
		}
	}
	return false
}

// Window is a validity interval [Start, End). A zero End means open-ended.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if t.Before(w.Start) {
		return false
	}
	return w.End.IsZero() || t.Before(w.End)
}

// Offer is a merchant-defined discount applied without any code.
type Offer struct {
	ID           int64
	Name         string
	DiscountType DiscountType
	Value        decimal.Decimal
	// MaxDiscount caps percentage discounts. Zero means uncapped.
	MaxDiscount decimal.Decimal
	MinPurchase decimal.Decimal
	// Priority decides between non-stackable offers; higher wins.
	Priority  int
	Window    Window
	Scope     Scope
	Stackable bool
	Status    Status
}

// Eligible reports whether the offer applies to a cart with the given
// subtotal and lines at time now.
func (o Offer) Eligible(subtotal decimal.Decimal, lines []Line, now time.Time) bool {
	return o.Status == StatusActive &&
		o.Window.Contains(now) &&
		o.MinPurchase.LessThanOrEqual(subtotal) &&
		o.Scope.Intersects(lines)
}

// Coupon is a code-gated discount with global and per-user usage limits.
type Coupon struct {
	ID           int64
	Code         string
	DiscountType DiscountType
	Value        decimal.Decimal
	MaxDiscount  decimal.Decimal
	MinAmount    decimal.Decimal
	// UsageLimit is the total number of redemptions allowed. Zero means unlimited.
	UsageLimit int
	// MaxUsagePerUser is the number of redemptions allowed per customer. Zero means unlimited.
	MaxUsagePerUser int
	UsedCount       int
	Window          Window
	Scope           Scope
	Stackable       bool
	Status          Status
}

// Usage is an immutable record of one successful coupon redemption.
type Usage struct {
	CouponID        int64
	UserID          string
	OrderID         string
	DiscountApplied decimal.Decimal
	UsedAt          time.Time
}

// NormalizeCode returns the canonical form coupon codes are stored and looked up in.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// OfferSource lists offers that may be active at a point in time.
type OfferSource interface {
	ActiveOffers(ctx context.Context, now time.Time) ([]Offer, error)
}

// CouponSource resolves coupons and their per-user redemption counts.
type CouponSource interface {
	// FindCouponByCode returns apperr.ErrNotFound when no coupon has the code.
	FindCouponByCode(ctx context.Context, code string) (*Coupon, error)
	CountCouponUsage(ctx context.Context, couponID int64, userID string) (int, error)
}

// Redeemer records a redemption inside a unit of work. RedeemCoupon
// increments the used count only while it is below c.UsageLimit, re-checks
// c.MaxUsagePerUser against the recorded usage and appends u. A limit hit at
// this point is reported as a *RejectionError.
type Redeemer interface {
	RedeemCoupon(ctx context.Context, c *Coupon, u Usage) error
}
