package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/auth"
	"github.com/xenking/kart-ledger/internal/domain/product"
	"github.com/xenking/kart-ledger/internal/domain/promotion"
)

// PutProduct inserts or replaces a catalog product.
func (s *Store) PutProduct(p product.Product) {
	s.locked(func(d *data) { d.products[p.ID] = p })
}

// PutOffer inserts or replaces an offer.
func (s *Store) PutOffer(o promotion.Offer) {
	s.locked(func(d *data) { d.offers[o.ID] = o })
}

// PutCoupon inserts or replaces a coupon under its normalized code.
func (s *Store) PutCoupon(c promotion.Coupon) {
	c.Code = promotion.NormalizeCode(c.Code)
	s.locked(func(d *data) { d.coupons[c.Code] = c })
}

// PutAPIKey stores an API key by its hash.
func (s *Store) PutAPIKey(k auth.APIKey) {
	s.locked(func(d *data) { d.keys[k.KeyHash] = k })
}

// GetByIDs implements product.Repository.
func (s *Store) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	s.locked(func(d *data) {
		for _, id := range ids {
			if p, ok := d.products[id]; ok && p.Active {
				out = append(out, p)
			}
		}
	})
	return out, nil
}

// ActiveOffers implements promotion.OfferSource.
func (s *Store) ActiveOffers(_ context.Context, now time.Time) ([]promotion.Offer, error) {
	var out []promotion.Offer
	s.locked(func(d *data) {
		for _, o := range d.offers {
			if o.Status == promotion.StatusActive && o.Window.Contains(now) {
				out = append(out, o)
			}
		}
	})
	slices.SortFunc(out, func(a, b promotion.Offer) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// FindCouponByCode implements promotion.CouponSource.
func (s *Store) FindCouponByCode(_ context.Context, code string) (*promotion.Coupon, error) {
	var (
		c  promotion.Coupon
		ok bool
	)
	s.locked(func(d *data) { c, ok = d.coupons[promotion.NormalizeCode(code)] })
	if !ok {
		return nil, errors.Wrapf(apperr.ErrNotFound, "coupon %s", code)
	}
	return &c, nil
}

// CountCouponUsage implements promotion.CouponSource.
func (s *Store) CountCouponUsage(_ context.Context, couponID int64, userID string) (int, error) {
	var n int
	s.locked(func(d *data) { n = countUsage(d, couponID, userID) })
	return n, nil
}

// CouponUsages returns the recorded redemptions of a coupon.
func (s *Store) CouponUsages(couponID int64) []promotion.Usage {
	var out []promotion.Usage
	s.locked(func(d *data) {
		for _, u := range d.usages {
			if u.CouponID == couponID {
				out = append(out, u)
			}
		}
	})
	return out
}

func countUsage(d *data, couponID int64, userID string) int {
	n := 0
	for _, u := range d.usages {
		if u.CouponID == couponID && u.UserID == userID {
			n++
		}
	}
	return n
}

// FindKeyByHash implements auth.KeyRepository.
func (s *Store) FindKeyByHash(_ context.Context, hash string) (*auth.APIKey, error) {
	var (
		k  auth.APIKey
		ok bool
	)
	s.locked(func(d *data) { k, ok = d.keys[hash] })
	if !ok {
		return nil, errors.Wrap(apperr.ErrNotFound, "api key")
	}
	return &k, nil
}

type coupons struct{ u *unit }

func (c coupons) RedeemCoupon(_ context.Context, coupon *promotion.Coupon, usage promotion.Usage) error {
	code := promotion.NormalizeCode(coupon.Code)
	stored, ok := c.u.d.coupons[code]
	if !ok || stored.ID != coupon.ID {
		return &promotion.RejectionError{Code: code, Reason: promotion.ReasonNotFound}
	}
	if stored.UsageLimit > 0 && stored.UsedCount >= stored.UsageLimit {
		return &promotion.RejectionError{Code: code, Reason: promotion.ReasonUsageLimitReached}
	}
	if stored.MaxUsagePerUser > 0 && countUsage(c.u.d, stored.ID, usage.UserID) >= stored.MaxUsagePerUser {
		return &promotion.RejectionError{Code: code, Reason: promotion.ReasonUserLimitReached}
	}
	stored.UsedCount++
	c.u.d.coupons[code] = stored
	c.u.d.usages = append(c.u.d.usages, usage)
	return nil
}
