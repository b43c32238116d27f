package promotion

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
)

// MatchRequest describes the cart a promotion match is computed for.
type MatchRequest struct {
	UserID     string
	Subtotal   decimal.Decimal
	Lines      []Line
	CouponCode string
}

// Match holds the offers and coupon that apply to a cart.
type Match struct {
	// Offers is either a single non-stackable offer or every eligible
	// stackable offer, ordered by ID.
	Offers []Offer
	// Coupon is set when a code was supplied and passed every check.
	Coupon *Coupon
	// Rejection is set when a code was supplied and failed a check.
	Rejection *RejectionError
}

// Matcher selects the offers and coupon applicable to a cart.
type Matcher struct {
	offers  OfferSource
	coupons CouponSource
	now     func() time.Time
}

// NewMatcher creates a Matcher backed by the given sources.
func NewMatcher(offers OfferSource, coupons CouponSource) *Matcher {
	return &Matcher{offers: offers, coupons: coupons, now: time.Now}
}

// Match returns the promotions applicable to req. A coupon that fails a check
// is reported in Match.Rejection, not as an error; errors are reserved for
// store failures.
func (m *Matcher) Match(ctx context.Context, req MatchRequest) (*Match, error) {
	now := m.now()

	candidates, err := m.offers.ActiveOffers(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "list offers")
	}

	eligible := make([]Offer, 0, len(candidates))
	for _, o := range candidates {
		if o.Eligible(req.Subtotal, req.Lines, now) {
			eligible = append(eligible, o)
		}
	}

	match := &Match{Offers: SelectOffers(eligible)}

	code := NormalizeCode(req.CouponCode)
	if code == "" {
		return match, nil
	}

	c, err := m.coupons.FindCouponByCode(ctx, code)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			match.Rejection = reject(code, ReasonNotFound)
			return match, nil
		}
		return nil, errors.Wrap(err, "find coupon")
	}

	prior := 0
	if c.MaxUsagePerUser > 0 {
		prior, err = m.coupons.CountCouponUsage(ctx, c.ID, req.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "count coupon usage")
		}
	}

	if r := CheckCoupon(c, req.Subtotal, req.Lines, now, prior); r != nil {
		match.Rejection = r
		return match, nil
	}

	match.Coupon = c
	return match, nil
}

// SelectOffers applies the stacking rule: when any non-stackable offer is
// present only the one with the highest priority survives (lowest ID on
// ties), otherwise every stackable offer survives. The result is ordered by ID.
func SelectOffers(offers []Offer) []Offer {
	var (
		best      Offer
		haveBest  bool
		stackable []Offer
	)
	for _, o := range offers {
		if o.Stackable {
			stackable = append(stackable, o)
			continue
		}
		if !haveBest || o.Priority > best.Priority || (o.Priority == best.Priority && o.ID < best.ID) {
			best, haveBest = o, true
		}
	}
	if haveBest {
		return []Offer{best}
	}
	slices.SortFunc(stackable, func(a, b Offer) int { return cmp.Compare(a.ID, b.ID) })
	return stackable
}
