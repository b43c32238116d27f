package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-ledger/internal/domain/auth"
	"github.com/xenking/kart-ledger/internal/domain/product"
	"github.com/xenking/kart-ledger/internal/domain/promotion"
)

const (
	getProductsSQL = `SELECT id, name, seller_id, category_id, price, discount_percent,
		image_url, active, variants
		FROM products WHERE id = ANY($1) AND active = TRUE`

	upsertProductSQL = `INSERT INTO products (id, name, seller_id, category_id, price,
		discount_percent, image_url, active, variants)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, seller_id = EXCLUDED.seller_id,
		category_id = EXCLUDED.category_id, price = EXCLUDED.price,
		discount_percent = EXCLUDED.discount_percent, image_url = EXCLUDED.image_url,
		active = EXCLUDED.active, variants = EXCLUDED.variants`

	activeOffersSQL = `SELECT id, name, discount_type, value, max_discount, min_purchase,
		priority, starts_at, ends_at, category_ids, product_ids, stackable, status
		FROM offers
		WHERE status = 'active' AND starts_at <= $1 AND (ends_at IS NULL OR ends_at > $1)
		ORDER BY id`

	insertOfferSQL = `INSERT INTO offers (name, discount_type, value, max_discount,
		min_purchase, priority, starts_at, ends_at, category_ids, product_ids, stackable, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`

	couponColumns = `id, code, discount_type, value, max_discount, min_amount, usage_limit,
		max_usage_per_user, used_count, starts_at, ends_at, category_ids, product_ids,
		stackable, status`

	getCouponByCodeSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	upsertCouponSQL = `INSERT INTO coupons (code, discount_type, value, max_discount,
		min_amount, usage_limit, max_usage_per_user, starts_at, ends_at, category_ids,
		product_ids, stackable, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (code) DO UPDATE SET discount_type = EXCLUDED.discount_type,
		value = EXCLUDED.value, max_discount = EXCLUDED.max_discount,
		min_amount = EXCLUDED.min_amount, usage_limit = EXCLUDED.usage_limit,
		max_usage_per_user = EXCLUDED.max_usage_per_user, starts_at = EXCLUDED.starts_at,
		ends_at = EXCLUDED.ends_at, category_ids = EXCLUDED.category_ids,
		product_ids = EXCLUDED.product_ids, stackable = EXCLUDED.stackable,
		status = EXCLUDED.status
		RETURNING id`

	countCouponUsageSQL = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`

	// The increment takes the row lock, so the per-user count read after it
	// cannot race with another redemption of the same coupon.
	claimCouponSQL = `UPDATE coupons SET used_count = used_count + 1
		WHERE id = $1 AND status = 'active' AND (usage_limit = 0 OR used_count < usage_limit)
		RETURNING max_usage_per_user`

	insertCouponUsageSQL = `INSERT INTO coupon_usages (coupon_id, user_id, order_id,
		discount_applied, used_at) VALUES ($1, $2, $3, $4, $5)`

	findKeyByHashSQL = `SELECT id, key_hash, name, actor_id, role
		FROM api_keys WHERE key_hash = $1 AND active = TRUE`

	insertKeySQL = `INSERT INTO api_keys (id, key_hash, name, actor_id, role)
		VALUES ($1, $2, $3, $4, $5) ON CONFLICT (key_hash) DO NOTHING`
)

// variantRow is the JSONB shape of a product variant.
type variantRow struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Price      decimal.Decimal   `json:"price"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// GetByIDs returns the active products found; missing ids are omitted.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := s.pool.Query(ctx, getProductsSQL, ids)
	if err != nil {
		return nil, errors.Wrap(mapErr(err), "get products")
	}
	list, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, errors.Wrap(err, "scan products")
	}
	return list, nil
}

// PutProduct inserts or replaces a catalog product.
func (s *Store) PutProduct(ctx context.Context, p product.Product) error {
	variants := make([]variantRow, len(p.Variants))
	for i, v := range p.Variants {
		variants[i] = variantRow(v)
	}
	data, err := json.Marshal(variants)
	if err != nil {
		return errors.Wrap(err, "encode variants")
	}
	_, err = s.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.SellerID, p.CategoryID, p.Price, p.DiscountPercent, p.ImageURL, p.Active, data,
	)
	if err != nil {
		return errors.Wrapf(mapErr(err), "put product %s", p.ID)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p        product.Product
		variants []byte
	)
	err := row.Scan(&p.ID, &p.Name, &p.SellerID, &p.CategoryID, &p.Price, &p.DiscountPercent,
		&p.ImageURL, &p.Active, &variants)
	if err != nil {
		return p, err
	}
	var decoded []variantRow
	if err := json.Unmarshal(variants, &decoded); err != nil {
		return p, errors.Wrapf(err, "decode variants of %s", p.ID)
	}
	for _, v := range decoded {
		p.Variants = append(p.Variants, product.Variant(v))
	}
	return p, nil
}

// ActiveOffers returns the offers whose window contains now.
func (s *Store) ActiveOffers(ctx context.Context, now time.Time) ([]promotion.Offer, error) {
	rows, err := s.pool.Query(ctx, activeOffersSQL, now)
	if err != nil {
		return nil, errors.Wrap(mapErr(err), "active offers")
	}
	list, err := pgx.CollectRows(rows, scanOffer)
	if err != nil {
		return nil, errors.Wrap(err, "scan offers")
	}
	return list, nil
}

// PutOffer inserts an offer and sets its generated id.
func (s *Store) PutOffer(ctx context.Context, o *promotion.Offer) error {
	err := s.pool.QueryRow(ctx, insertOfferSQL,
		o.Name, o.DiscountType, o.Value, o.MaxDiscount, o.MinPurchase, o.Priority,
		o.Window.Start, nullTime(o.Window.End), nonNil(o.Scope.CategoryIDs), nonNil(o.Scope.ProductIDs),
		o.Stackable, o.Status,
	).Scan(&o.ID)
	if err != nil {
		return errors.Wrapf(mapErr(err), "put offer %q", o.Name)
	}
	return nil
}

func scanOffer(row pgx.CollectableRow) (promotion.Offer, error) {
	var (
		o    promotion.Offer
		ends *time.Time
	)
	err := row.Scan(&o.ID, &o.Name, &o.DiscountType, &o.Value, &o.MaxDiscount, &o.MinPurchase,
		&o.Priority, &o.Window.Start, &ends, &o.Scope.CategoryIDs, &o.Scope.ProductIDs,
		&o.Stackable, &o.Status)
	if ends != nil {
		o.Window.End = *ends
	}
	return o, err
}

// FindCouponByCode looks up a coupon by its normalized code.
func (s *Store) FindCouponByCode(ctx context.Context, code string) (*promotion.Coupon, error) {
	code = promotion.NormalizeCode(code)
	rows, err := s.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, errors.Wrapf(mapErr(err), "find coupon %q", code)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		return nil, errors.Wrapf(mapErr(err), "find coupon %q", code)
	}
	return &c, nil
}

// CountCouponUsage returns how often the customer redeemed the coupon.
func (s *Store) CountCouponUsage(ctx context.Context, couponID int64, userID string) (int, error) {
	return countUsage(ctx, s.pool, couponID, userID)
}

// PutCoupon inserts or replaces a coupon keyed by its normalized code and
// sets its id. The used count of an existing coupon is kept.
func (s *Store) PutCoupon(ctx context.Context, c *promotion.Coupon) error {
	return putCoupon(ctx, s.pool, c)
}

func putCoupon(ctx context.Context, q querier, c *promotion.Coupon) error {
	c.Code = promotion.NormalizeCode(c.Code)
	err := q.QueryRow(ctx, upsertCouponSQL,
		c.Code, c.DiscountType, c.Value, c.MaxDiscount, c.MinAmount, c.UsageLimit, c.MaxUsagePerUser,
		c.Window.Start, nullTime(c.Window.End), nonNil(c.Scope.CategoryIDs), nonNil(c.Scope.ProductIDs),
		c.Stackable, c.Status,
	).Scan(&c.ID)
	if err != nil {
		return errors.Wrapf(mapErr(err), "put coupon %q", c.Code)
	}
	return nil
}

func countUsage(ctx context.Context, q querier, couponID int64, userID string) (int, error) {
	var n int
	if err := q.QueryRow(ctx, countCouponUsageSQL, couponID, userID).Scan(&n); err != nil {
		return 0, errors.Wrap(mapErr(err), "count coupon usage")
	}
	return n, nil
}

func scanCoupon(row pgx.CollectableRow) (promotion.Coupon, error) {
	var (
		c    promotion.Coupon
		ends *time.Time
	)
	err := row.Scan(&c.ID, &c.Code, &c.DiscountType, &c.Value, &c.MaxDiscount, &c.MinAmount,
		&c.UsageLimit, &c.MaxUsagePerUser, &c.UsedCount, &c.Window.Start, &ends,
		&c.Scope.CategoryIDs, &c.Scope.ProductIDs, &c.Stackable, &c.Status)
	if ends != nil {
		c.Window.End = *ends
	}
	return c, err
}

type coupons struct{ q querier }

func (r coupons) RedeemCoupon(ctx context.Context, c *promotion.Coupon, u promotion.Usage) error {
	code := promotion.NormalizeCode(c.Code)

	var perUser int
	err := r.q.QueryRow(ctx, claimCouponSQL, c.ID).Scan(&perUser)
	if errors.Is(err, pgx.ErrNoRows) {
		return &promotion.RejectionError{Code: code, Reason: promotion.ReasonUsageLimitReached}
	}
	if err != nil {
		return errors.Wrapf(mapErr(err), "redeem coupon %q", code)
	}

	if perUser > 0 {
		used, err := countUsage(ctx, r.q, c.ID, u.UserID)
		if err != nil {
			return err
		}
		if used >= perUser {
			return &promotion.RejectionError{Code: code, Reason: promotion.ReasonUserLimitReached}
		}
	}

	_, err = r.q.Exec(ctx, insertCouponUsageSQL, u.CouponID, u.UserID, u.OrderID, u.DiscountApplied, u.UsedAt)
	if err != nil {
		return errors.Wrapf(mapErr(err), "record usage of coupon %q", code)
	}
	return nil
}

// FindKeyByHash looks up an active API key by its hash.
func (s *Store) FindKeyByHash(ctx context.Context, hash string) (*auth.APIKey, error) {
	var k auth.APIKey
	err := s.pool.QueryRow(ctx, findKeyByHashSQL, hash).Scan(&k.ID, &k.KeyHash, &k.Name, &k.ActorID, &k.Role)
	if err != nil {
		return nil, errors.Wrap(mapErr(err), "api key")
	}
	return &k, nil
}

// PutAPIKey stores an API key unless its hash is already present.
func (s *Store) PutAPIKey(ctx context.Context, k auth.APIKey) error {
	if _, err := s.pool.Exec(ctx, insertKeySQL, k.ID, k.KeyHash, k.Name, k.ActorID, k.Role); err != nil {
		return errors.Wrapf(mapErr(err), "put api key %s", k.ID)
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
