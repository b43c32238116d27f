// Package checkout turns a customer's cart into an order.
package checkout

import (
	"context"
	"maps"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/auth"
	"github.com/xenking/kart-ledger/internal/domain/cart"
	"github.com/xenking/kart-ledger/internal/domain/order"
	"github.com/xenking/kart-ledger/internal/domain/outbox"
	"github.com/xenking/kart-ledger/internal/domain/payment"
	"github.com/xenking/kart-ledger/internal/domain/product"
	"github.com/xenking/kart-ledger/internal/domain/promotion"
	"github.com/xenking/kart-ledger/internal/domain/wallet"
)

// Matcher selects the promotions for a cart.
type Matcher interface {
	Match(ctx context.Context, req promotion.MatchRequest) (*promotion.Match, error)
}

// Numberer issues order numbers.
type Numberer interface {
	Next(ctx context.Context) (string, error)
}

// Options wires a Service. Shipping and Tax default to free and untaxed.
type Options struct {
	Carts    cart.Repository
	Products product.Repository
	Matcher  Matcher
	Numbers  Numberer
	Orders   order.Transactor
	Gateway  payment.Gateway
	Shipping ShippingPolicy
	Tax      TaxPolicy
	Currency string
	Tracer   trace.TracerProvider
	Meter    metric.MeterProvider
}

// Service prices carts and places orders.
type Service struct {
	carts    cart.Repository
	products product.Repository
	matcher  Matcher
	numbers  Numberer
	orders   order.Transactor
	gateway  payment.Gateway
	shipping ShippingPolicy
	tax      TaxPolicy
	currency string
	now      func() time.Time
	newID    func() string

	tracer trace.Tracer
	placed metric.Int64Counter
}

// NewService creates a checkout Service.
func NewService(opts Options) (*Service, error) {
	if opts.Shipping == nil {
		opts.Shipping = FlatShipping{}
	}
	if opts.Tax == nil {
		opts.Tax = PercentTax{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.GetTracerProvider()
	}
	if opts.Meter == nil {
		opts.Meter = otel.GetMeterProvider()
	}
	placed, err := opts.Meter.Meter("kart-ledger/checkout").Int64Counter("checkout.orders",
		metric.WithDescription("Orders placed by payment method"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create orders counter")
	}
	return &Service{
		carts:    opts.Carts,
		products: opts.Products,
		matcher:  opts.Matcher,
		numbers:  opts.Numbers,
		orders:   opts.Orders,
		gateway:  opts.Gateway,
		shipping: opts.Shipping,
		tax:      opts.Tax,
		currency: opts.Currency,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		tracer:   opts.Tracer.Tracer("kart-ledger/checkout"),
		placed:   placed,
	}, nil
}

// Quote is a priced cart.
type Quote struct {
	Items     []order.Item
	Breakdown promotion.Breakdown

	coupon *promotion.Coupon
}

// Preview prices the actor's cart without side effects. A coupon that does
// not apply is reported in Breakdown.CouponRejection.
func (s *Service) Preview(ctx context.Context, actor auth.Actor, couponCode string) (*Quote, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Preview")
	defer span.End()

	if !actor.IsCustomer() {
		return nil, fail(span, errors.Wrap(apperr.ErrForbidden, "only customers check out"))
	}
	q, err := s.quote(ctx, actor.ID, couponCode)
	if err != nil {
		return nil, fail(span, err)
	}
	return q, nil
}

// Request is a checkout commit.
type Request struct {
	CouponCode    string
	PaymentMethod order.PaymentMethod
}

// Result is a placed order. Payment is set for online payments and carries
// the gateway order the customer pays against.
type Result struct {
	Order     *order.Order
	Breakdown promotion.Breakdown
	Payment   *payment.GatewayOrder
}

// Commit places an order for the actor's cart.
//
// The order, its coupon redemption and, for wallet payments, the debit are
// written in one unit of work. Wallet orders are paid and processing on
// return. Cash on delivery orders stay pending. Both clear the cart. Online
// orders stay pending with a gateway order attached and keep the cart until
// the payment is confirmed. A supplied coupon that does not apply fails the
// commit so the customer never pays more than they were shown.
func (s *Service) Commit(ctx context.Context, actor auth.Actor, req Request) (*Result, error) {
	ctx, span := s.tracer.Start(ctx, "checkout.Commit", trace.WithAttributes(
		attribute.String("payment_method", string(req.PaymentMethod)),
	))
	defer span.End()

	res, err := s.commit(ctx, actor, req)
	if err != nil {
		return nil, fail(span, err)
	}
	span.SetAttributes(attribute.String("order_number", res.Order.Number))
	s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("payment_method", string(req.PaymentMethod))))
	return res, nil
}

func (s *Service) commit(ctx context.Context, actor auth.Actor, req Request) (*Result, error) {
	if !actor.IsCustomer() {
		return nil, errors.Wrap(apperr.ErrForbidden, "only customers check out")
	}
	if !req.PaymentMethod.Valid() {
		return nil, apperr.Invalid("payment_method", "must be wallet, cod or online")
	}

	q, err := s.quote(ctx, actor.ID, req.CouponCode)
	if err != nil {
		return nil, err
	}
	b := q.Breakdown
	if b.CouponRejection != nil {
		return nil, b.CouponRejection
	}
	if req.PaymentMethod == order.MethodOnline && !b.Total.IsPositive() {
		return nil, apperr.Invalid("payment_method", "nothing to pay online")
	}

	number, err := s.numbers.Next(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "order number")
	}

	now := s.now()
	o := order.Order{
		ID:              s.newID(),
		Number:          number,
		UserID:          actor.ID,
		Items:           q.Items,
		Subtotal:        b.Subtotal,
		OfferDiscount:   b.OfferDiscount,
		CouponDiscount:  b.CouponDiscount,
		ShippingCharge:  b.ShippingCharge,
		Tax:             b.Tax,
		Total:           b.Total,
		AppliedOfferIDs: b.AppliedOfferIDs,
		CouponCode:      b.CouponCode,
		Status:          order.StatusPending,
		PaymentStatus:   order.PaymentPending,
		PaymentMethod:   req.PaymentMethod,
		PlacedAt:        now,
		UpdatedAt:       now,
	}

	var gw *payment.GatewayOrder
	if req.PaymentMethod == order.MethodOnline {
		gw, err = s.gateway.CreateOrder(ctx, payment.OrderRequest{
			Amount:   o.Total,
			Currency: s.currency,
			Receipt:  o.Number,
			Notes: map[string]string{
				payment.NoteUserID:      o.UserID,
				payment.NoteOrderID:     o.ID,
				payment.NoteOrderNumber: o.Number,
			},
		})
		if err != nil {
			return nil, errors.Wrap(err, "create gateway order")
		}
		o.GatewayOrderID = gw.ID
	}

	err = s.orders.WithinOrderTx(ctx, func(uow order.UnitOfWork) error {
		var debit *wallet.Transaction
		if req.PaymentMethod == order.MethodWallet {
			paymentID := ""
			if o.Total.IsPositive() {
				debit, err = wallet.NewLedger(uow.Wallets()).Post(ctx, wallet.Posting{
					UserID:      o.UserID,
					Amount:      o.Total,
					Type:        wallet.TypeDebit,
					Description: "Payment for order " + o.Number,
					OrderID:     o.Number,
				})
				if err != nil {
					return errors.Wrap(err, "debit wallet")
				}
				paymentID = debit.ID
			}
			if o, err = order.MarkPaid(o, paymentID, now); err != nil {
				return err
			}
		}

		if err := uow.Orders().Create(ctx, &o); err != nil {
			return errors.Wrap(err, "create order")
		}
		if q.coupon != nil {
			if err := uow.Coupons().RedeemCoupon(ctx, q.coupon, promotion.Usage{
				CouponID:        q.coupon.ID,
				UserID:          o.UserID,
				OrderID:         o.ID,
				DiscountApplied: o.CouponDiscount,
				UsedAt:          now,
			}); err != nil {
				return errors.Wrap(err, "redeem coupon")
			}
		}
		if req.PaymentMethod != order.MethodOnline {
			if err := uow.Carts().Clear(ctx, o.UserID); err != nil {
				return errors.Wrap(err, "clear cart")
			}
		}

		events := []outbox.Event{order.PlacedEvent(&o)}
		if debit != nil {
			events = append(events,
				wallet.PostedEvent(debit, o.UserID),
				order.PaymentEvent(outbox.PaymentCaptured, &o),
			)
		}
		for _, ev := range events {
			if err := uow.Outbox().Append(ctx, ev); err != nil {
				return errors.Wrap(err, "append event")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("user_id", o.UserID),
		zap.String("payment_method", string(o.PaymentMethod)),
		zap.String("total", o.Total.StringFixed(2)),
	)
	return &Result{Order: &o, Breakdown: b, Payment: gw}, nil
}

// quote loads the cart, prices every line from the catalog and applies
// promotions, shipping and tax.
func (s *Service) quote(ctx context.Context, userID, couponCode string) (*Quote, error) {
	c, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	if c.Empty() {
		return nil, apperr.Invalid("cart", "is empty")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(c.Items))
	for _, it := range c.Items {
		ids = append(ids, it.ProductID)
	}
	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]order.Item, 0, len(c.Items))
	lines := make([]promotion.Line, 0, len(c.Items))
	subtotal := decimal.Zero
	for _, it := range c.Items {
		p, ok := byID[it.ProductID]
		if !ok {
			return nil, errors.Wrapf(apperr.ErrNotFound, "product %s", it.ProductID)
		}
		item := order.Item{
			ProductID:   p.ID,
			ProductName: p.Name,
			SellerID:    p.SellerID,
			CategoryID:  p.CategoryID,
			Quantity:    it.Quantity,
			ImageURL:    p.ImageURL,
		}
		var variant *product.Variant
		if it.VariantID != "" {
			v, ok := p.Variant(it.VariantID)
			if !ok {
				return nil, errors.Wrapf(apperr.ErrNotFound, "variant %s of product %s", it.VariantID, p.ID)
			}
			variant = &v
			item.VariantID = v.ID
			item.VariantName = v.Name
			item.Attributes = maps.Clone(v.Attributes)
		}
		price := p.Quote(variant)
		item.BasePrice = price.BasePrice
		item.DiscountPercent = price.DiscountPercent
		item.FinalPrice = price.FinalPrice

		items = append(items, item)
		lines = append(lines, promotion.Line{ProductID: p.ID, CategoryID: p.CategoryID})
		subtotal = subtotal.Add(item.LineTotal())
	}
	subtotal = subtotal.Round(2)

	match, err := s.matcher.Match(ctx, promotion.MatchRequest{
		UserID:     userID,
		Subtotal:   subtotal,
		Lines:      lines,
		CouponCode: couponCode,
	})
	if err != nil {
		return nil, errors.Wrap(err, "match promotions")
	}

	merchandise := promotion.ApplyDiscounts(subtotal, match.Offers, match.Coupon).Merchandise(subtotal)
	b := promotion.Calculate(promotion.Input{
		Subtotal:       subtotal,
		Offers:         match.Offers,
		Coupon:         match.Coupon,
		ShippingCharge: s.shipping.Shipping(merchandise),
		Tax:            s.tax.Tax(merchandise),
	})
	if match.Rejection != nil {
		b.CouponRejection = match.Rejection
	}

	q := &Quote{Items: items, Breakdown: b}
	if b.CouponCode != "" {
		q.coupon = match.Coupon
	}
	return q, nil
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
