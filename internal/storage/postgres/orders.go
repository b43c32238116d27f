package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/order"
)

const orderColumns = `id, order_number, user_id, items, subtotal, offer_discount,
	coupon_discount, shipping_charge, tax, total, applied_offer_ids, coupon_code,
	status, payment_status, payment_method, COALESCE(gateway_order_id, ''), payment_id,
	refund_amount, cancel_reason, return_reason, reject_reason,
	placed_at, updated_at, delivered_at, cancelled_at`

const (
	insertOrderSQL = `INSERT INTO orders (id, order_number, user_id, items, subtotal,
		offer_discount, coupon_discount, shipping_charge, tax, total, applied_offer_ids,
		coupon_code, status, payment_status, payment_method, gateway_order_id, payment_id,
		refund_amount, cancel_reason, return_reason, reject_reason,
		placed_at, updated_at, delivered_at, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		NULLIF($16, ''), $17, $18, $19, $20, $21, $22, $23, $24, $25)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByGatewaySQL = `SELECT ` + orderColumns + ` FROM orders WHERE gateway_order_id = $1`

	updateOrderSQL = `UPDATE orders SET status = $2, payment_status = $3, payment_id = $4,
		refund_amount = $5, cancel_reason = $6, return_reason = $7, reject_reason = $8,
		updated_at = $9, delivered_at = $10, cancelled_at = $11
		WHERE id = $1 AND status = $12 AND payment_status = $13`

	listOrdersSQL = `SELECT ` + orderColumns + `, COUNT(*) OVER ()
		FROM orders WHERE user_id = $1
		ORDER BY placed_at DESC, id DESC LIMIT $2 OFFSET $3`

	countOrdersSQL = `SELECT COUNT(*) FROM orders WHERE user_id = $1`
)

// itemRow is the JSONB shape of an order line.
type itemRow struct {
	ProductID       string            `json:"product_id"`
	ProductName     string            `json:"product_name"`
	SellerID        string            `json:"seller_id"`
	CategoryID      string            `json:"category_id,omitempty"`
	VariantID       string            `json:"variant_id,omitempty"`
	VariantName     string            `json:"variant_name,omitempty"`
	Quantity        int               `json:"quantity"`
	BasePrice       decimal.Decimal   `json:"base_price"`
	DiscountPercent decimal.Decimal   `json:"discount_percent"`
	FinalPrice      decimal.Decimal   `json:"final_price"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	ImageURL        string            `json:"image_url,omitempty"`
}

func encodeItems(items []order.Item) ([]byte, error) {
	rows := make([]itemRow, len(items))
	for i, it := range items {
		rows[i] = itemRow(it)
	}
	return json.Marshal(rows)
}

func decodeItems(data []byte) ([]order.Item, error) {
	var rows []itemRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	items := make([]order.Item, len(rows))
	for i, r := range rows {
		items[i] = order.Item(r)
	}
	return items, nil
}

type orders struct{ q querier }

func (r orders) Create(ctx context.Context, o *order.Order) error {
	items, err := encodeItems(o.Items)
	if err != nil {
		return errors.Wrap(err, "encode order items")
	}
	offerIDs := o.AppliedOfferIDs
	if offerIDs == nil {
		offerIDs = []int64{}
	}
	_, err = r.q.Exec(ctx, insertOrderSQL,
		o.ID, o.Number, o.UserID, items, o.Subtotal,
		o.OfferDiscount, o.CouponDiscount, o.ShippingCharge, o.Tax, o.Total, offerIDs,
		o.CouponCode, o.Status, o.PaymentStatus, o.PaymentMethod, o.GatewayOrderID, o.PaymentID,
		o.RefundAmount, o.CancelReason, o.ReturnReason, o.RejectReason,
		o.PlacedAt, o.UpdatedAt, o.DeliveredAt, o.CancelledAt,
	)
	if err != nil {
		return errors.Wrapf(mapErr(err), "insert order %s", o.Number)
	}
	return nil
}

func (r orders) Get(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, r.q, getOrderSQL, id)
}

func (r orders) GetByGatewayOrder(ctx context.Context, gatewayOrderID string) (*order.Order, error) {
	return getOrder(ctx, r.q, getOrderByGatewaySQL, gatewayOrderID)
}

func (r orders) Update(ctx context.Context, o *order.Order, expected order.State) error {
	tag, err := r.q.Exec(ctx, updateOrderSQL,
		o.ID, o.Status, o.PaymentStatus, o.PaymentID,
		o.RefundAmount, o.CancelReason, o.ReturnReason, o.RejectReason,
		o.UpdatedAt, o.DeliveredAt, o.CancelledAt,
		expected.Status, expected.PaymentStatus,
	)
	if err != nil {
		return errors.Wrapf(mapErr(err), "update order %s", o.ID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(apperr.ErrConflict, "order %s changed concurrently", o.ID)
	}
	return nil
}

// GetOrder reads an order outside of any unit of work.
func (s *Store) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, s.pool, getOrderSQL, id)
}

// ListOrders returns the customer's orders newest first and the total count.
func (s *Store) ListOrders(ctx context.Context, userID string, page order.Page) ([]order.Order, int, error) {
	page = page.Normalize()
	rows, err := s.pool.Query(ctx, listOrdersSQL, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, 0, errors.Wrap(mapErr(err), "list orders")
	}

	var total int
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Order, error) {
		o, err := scanOrder(row, &total)
		if err != nil {
			return order.Order{}, err
		}
		return *o, nil
	})
	if err != nil {
		return nil, 0, errors.Wrap(err, "scan orders")
	}
	// An offset past the end yields no rows and therefore no window count.
	if len(list) == 0 && page.Offset > 0 {
		if err := s.pool.QueryRow(ctx, countOrdersSQL, userID).Scan(&total); err != nil {
			return nil, 0, errors.Wrap(mapErr(err), "count orders")
		}
	}
	return list, total, nil
}

func getOrder(ctx context.Context, q querier, sql, arg string) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrapf(mapErr(err), "get order %s", arg)
	}
	o, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (*order.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, errors.Wrapf(mapErr(err), "get order %s", arg)
	}
	return o, nil
}

func scanOrder(row pgx.CollectableRow, extra ...any) (*order.Order, error) {
	var (
		o           order.Order
		items       []byte
		deliveredAt *time.Time
		cancelledAt *time.Time
	)
	dest := []any{
		&o.ID, &o.Number, &o.UserID, &items, &o.Subtotal, &o.OfferDiscount,
		&o.CouponDiscount, &o.ShippingCharge, &o.Tax, &o.Total, &o.AppliedOfferIDs, &o.CouponCode,
		&o.Status, &o.PaymentStatus, &o.PaymentMethod, &o.GatewayOrderID, &o.PaymentID,
		&o.RefundAmount, &o.CancelReason, &o.ReturnReason, &o.RejectReason,
		&o.PlacedAt, &o.UpdatedAt, &deliveredAt, &cancelledAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	decoded, err := decodeItems(items)
	if err != nil {
		return nil, errors.Wrapf(err, "decode items of order %s", o.ID)
	}
	o.Items = decoded
	o.DeliveredAt = deliveredAt
	o.CancelledAt = cancelledAt
	return &o, nil
}
