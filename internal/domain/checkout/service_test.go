package checkout_test

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/auth"
	"github.com/xenking/kart-ledger/internal/domain/cart"
	"github.com/xenking/kart-ledger/internal/domain/checkout"
	"github.com/xenking/kart-ledger/internal/domain/order"
	"github.com/xenking/kart-ledger/internal/domain/outbox"
	"github.com/xenking/kart-ledger/internal/domain/payment"
	"github.com/xenking/kart-ledger/internal/domain/product"
	"github.com/xenking/kart-ledger/internal/domain/promotion"
	"github.com/xenking/kart-ledger/internal/domain/sequence"
	"github.com/xenking/kart-ledger/internal/domain/wallet"
	"github.com/xenking/kart-ledger/internal/storage/memory"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

var customer = auth.Actor{ID: "cust-1", Role: auth.RoleCustomer}

type fakeGateway struct {
	mu    sync.Mutex
	calls []payment.OrderRequest
	err   error
}

func (g *fakeGateway) CreateOrder(_ context.Context, req payment.OrderRequest) (*payment.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.calls = append(g.calls, req)
	return &payment.GatewayOrder{ID: "order_gw_" + req.Receipt, Amount: req.Amount, Receipt: req.Receipt}, nil
}

type fixture struct {
	store   *memory.Store
	svc     *checkout.Service
	gateway *fakeGateway
}

// newFixture seeds two products, one stackable offer and one stackable
// coupon. A cart of 2 x p1 and 1 x p2/v1 prices as:
//
//	subtotal 2*450 + 350       = 1250
//	offer    10% capped at 100 = 100
//	coupon   flat              = 50
//	shipping waived above 1000 = 0
//	tax      5% of 1100        = 55
//	total                      = 1155
func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memory.New()
	s.PutProduct(product.Product{
		ID: "p1", Name: "Sneaker", SellerID: "seller-1", CategoryID: "shoes",
		Price: d("500"), DiscountPercent: d("10"), Active: true,
	})
	s.PutProduct(product.Product{
		ID: "p2", Name: "Tee", SellerID: "seller-2", CategoryID: "tops",
		Price: d("300"), Active: true,
		Variants: []product.Variant{{ID: "v1", Name: "XL", Price: d("350"), Attributes: map[string]string{"size": "XL"}}},
	})
	s.PutProduct(product.Product{ID: "gone", Name: "Retired", Price: d("10"), Active: false})
	s.PutOffer(promotion.Offer{
		ID: 1, Name: "Festive", DiscountType: promotion.DiscountPercentage, Value: d("10"),
		MaxDiscount: d("100"), MinPurchase: d("1000"), Stackable: true, Status: promotion.StatusActive,
	})
	s.PutCoupon(promotion.Coupon{
		ID: 7, Code: "SAVE50", DiscountType: promotion.DiscountFlat, Value: d("50"),
		UsageLimit: 1, MaxUsagePerUser: 1, Stackable: true, Status: promotion.StatusActive,
	})

	gw := &fakeGateway{}
	svc, err := checkout.NewService(checkout.Options{
		Carts:    s,
		Products: s,
		Matcher:  promotion.NewMatcher(s, s),
		Numbers:  sequence.New(s, sequence.DefaultConfig),
		Orders:   s,
		Gateway:  gw,
		Shipping: checkout.FlatShipping{Charge: d("40"), FreeAbove: d("1000")},
		Tax:      checkout.PercentTax{Rate: d("5")},
	})
	require.NoError(t, err)
	return &fixture{store: s, svc: svc, gateway: gw}
}

func (f *fixture) fillCart(t *testing.T, userID string) {
	t.Helper()
	require.NoError(t, f.store.SaveCart(context.Background(), &cart.Cart{
		UserID: userID,
		Items: []cart.Item{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", VariantID: "v1", Quantity: 1},
		},
	}))
}

func (f *fixture) fund(t *testing.T, userID string, amount string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.WithinWalletTx(ctx, func(ws wallet.Store) error {
		_, err := wallet.NewLedger(ws).Post(ctx, wallet.Posting{UserID: userID, Amount: d(amount), Type: wallet.TypeCredit})
		return err
	}))
}

func (f *fixture) cartItems(t *testing.T, userID string) int {
	t.Helper()
	c, err := f.store.GetCart(context.Background(), userID)
	require.NoError(t, err)
	return len(c.Items)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "%s: want %s, got %s", field, want, got)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, customer.ID)

	q, err := f.svc.Preview(context.Background(), customer, " save50 ")
	require.NoError(t, err)

	b := q.Breakdown
	assertMoney(t, "1250", b.Subtotal, "subtotal")
	assertMoney(t, "100", b.OfferDiscount, "offer")
	assertMoney(t, "50", b.CouponDiscount, "coupon")
	assertMoney(t, "0", b.ShippingCharge, "shipping")
	assertMoney(t, "55", b.Tax, "tax")
	assertMoney(t, "1155", b.Total, "total")
	assert.Equal(t, []int64{1}, b.AppliedOfferIDs)
	assert.Equal(t, "SAVE50", b.CouponCode)
	assert.Nil(t, b.CouponRejection)

	require.Len(t, q.Items, 2)
	assertMoney(t, "450", q.Items[0].FinalPrice, "p1 price")
	assert.Equal(t, "XL", q.Items[1].VariantName)
	assertMoney(t, "350", q.Items[1].FinalPrice, "p2 price")

	assert.Empty(t, f.store.Events())
	assert.Empty(t, f.store.CouponUsages(7))
	assert.Equal(t, 2, f.cartItems(t, customer.ID))
}

func TestPreview_ItemAttributesAreCopied(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, customer.ID)
	ctx := context.Background()

	q, err := f.svc.Preview(ctx, customer, "")
	require.NoError(t, err)
	require.Len(t, q.Items, 2)
	q.Items[1].Attributes["size"] = "S"

	ps, err := f.store.GetByIDs(ctx, []string{"p2"})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	v, ok := ps[0].Variant("v1")
	require.True(t, ok)
	assert.Equal(t, "XL", v.Attributes["size"], "catalog variant must not change with the quoted item")
}

func TestPreview_CouponRejected(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, customer.ID)

	q, err := f.svc.Preview(context.Background(), customer, "NOPE")
	require.NoError(t, err)
	require.NotNil(t, q.Breakdown.CouponRejection)
	assert.Equal(t, promotion.ReasonNotFound, q.Breakdown.CouponRejection.Reason)
	assert.Empty(t, q.Breakdown.CouponCode)
	assertMoney(t, "1207.5", q.Breakdown.Total, "total without coupon")
}

func TestPreview_Errors(t *testing.T) {
	tests := []struct {
		name    string
		actor   auth.Actor
		items   []cart.Item
		wantErr error
	}{
		{name: "empty cart", actor: customer, wantErr: apperr.ErrValidation},
		{name: "inactive product", actor: customer, items: []cart.Item{{ProductID: "gone", Quantity: 1}}, wantErr: apperr.ErrNotFound},
		{name: "unknown variant", actor: customer, items: []cart.Item{{ProductID: "p2", VariantID: "v9", Quantity: 1}}, wantErr: apperr.ErrNotFound},
		{name: "zero quantity", actor: customer, items: []cart.Item{{ProductID: "p1"}}, wantErr: apperr.ErrValidation},
		{name: "seller", actor: auth.Actor{ID: "seller-1", Role: auth.RoleSeller}, wantErr: apperr.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			require.NoError(t, f.store.SaveCart(context.Background(), &cart.Cart{UserID: customer.ID, Items: tt.items}))
			_, err := f.svc.Preview(context.Background(), tt.actor, "")
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCommit_CashOnDelivery(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, customer.ID)
	ctx := context.Background()

	res, err := f.svc.Commit(ctx, customer, checkout.Request{CouponCode: "SAVE50", PaymentMethod: order.MethodCOD})
	require.NoError(t, err)

	o := res.Order
	assert.Equal(t, "ORD000001", o.Number)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
	assertMoney(t, "1155", o.Total, "total")
	assert.Equal(t, "SAVE50", o.CouponCode)
	assert.Nil(t, res.Payment)

	stored, err := f.store.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Number, stored.Number)
	assert.Zero(t, f.cartItems(t, customer.ID))

	usages := f.store.CouponUsages(7)
	require.Len(t, usages, 1)
	assert.Equal(t, o.ID, usages[0].OrderID)
	assertMoney(t, "50", usages[0].DiscountApplied, "discount applied")

	events := f.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, outbox.OrderPlaced, events[0].Type)
}

func TestCommit_Wallet(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, customer.ID)
	f.fund(t, customer.ID, "2000")
	ctx := context.Background()

	res, err := f.svc.Commit(ctx, customer, checkout.Request{PaymentMethod: order.MethodWallet})
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, res.Order.Status)
	assert.Equal(t, order.PaymentPaid, res.Order.PaymentStatus)
	assertMoney(t, "1207.5", res.Order.Total, "total")

	w, err := f.store.WalletByUser(ctx, customer.ID)
	require.NoError(t, err)
	assertMoney(t, "792.5", w.Balance, "balance")

	txs, _, err := f.store.ListTransactions(ctx, w.ID, wallet.Page{})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, wallet.TypeDebit, txs[0].Type)
	assert.Equal(t, res.Order.Number, txs[0].OrderID)
	assert.Equal(t, txs[0].ID, res.Order.PaymentID)
	assert.Zero(t, f.cartItems(t, customer.ID))

	var types []string
	for _, ev := range f.store.Events() {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{outbox.OrderPlaced, outbox.WalletTransactionPosted, outbox.PaymentCaptured}, types)
}

func TestCommit_WalletInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, customer.ID)
	f.fund(t, customer.ID, "100")
	ctx := context.Background()

	_, err := f.svc.Commit(ctx, customer, checkout.Request{CouponCode: "SAVE50", PaymentMethod: order.MethodWallet})
	require.ErrorIs(t, err, wallet.ErrInsufficientBalance)

	list, total, err := f.store.ListOrders(ctx, customer.ID, order.Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, list)
	assert.Empty(t, f.store.CouponUsages(7), "coupon redemption rolled back")
	assert.Equal(t, 2, f.cartItems(t, customer.ID))

	w, err := f.store.WalletByUser(ctx, customer.ID)
	require.NoError(t, err)
	assertMoney(t, "100", w.Balance, "balance")
}

func TestCommit_Online(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, customer.ID)
	ctx := context.Background()

	res, err := f.svc.Commit(ctx, customer, checkout.Request{PaymentMethod: order.MethodOnline})
	require.NoError(t, err)
	require.NotNil(t, res.Payment)
	assert.Equal(t, "order_gw_ORD000001", res.Order.GatewayOrderID)
	assert.Equal(t, order.PaymentPending, res.Order.PaymentStatus)
	assert.Equal(t, 2, f.cartItems(t, customer.ID), "cart is kept until payment is confirmed")

	require.Len(t, f.gateway.calls, 1)
	call := f.gateway.calls[0]
	assertMoney(t, "1207.5", call.Amount, "gateway amount")
	assert.Equal(t, res.Order.ID, call.Notes[payment.NoteOrderID])
	assert.Equal(t, "ORD000001", call.Notes[payment.NoteOrderNumber])

	require.NoError(t, f.store.WithinOrderTx(ctx, func(uow order.UnitOfWork) error {
		stored, err := uow.Orders().GetByGatewayOrder(ctx, "order_gw_ORD000001")
		if err != nil {
			return err
		}
		assert.Equal(t, res.Order.ID, stored.ID)
		return nil
	}))
}

func TestCommit_GatewayFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, customer.ID)
	f.gateway.err = errors.Wrap(apperr.ErrUnavailable, "gateway down")

	_, err := f.svc.Commit(context.Background(), customer, checkout.Request{PaymentMethod: order.MethodOnline})
	require.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.Empty(t, f.store.Events())
}

func TestCommit_Rejections(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, customer.ID)
	ctx := context.Background()

	_, err := f.svc.Commit(ctx, customer, checkout.Request{PaymentMethod: "card"})
	require.ErrorIs(t, err, apperr.ErrValidation)

	_, err = f.svc.Commit(ctx, customer, checkout.Request{CouponCode: "NOPE", PaymentMethod: order.MethodCOD})
	var rej *promotion.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, promotion.ReasonNotFound, rej.Reason)

	_, err = f.svc.Commit(ctx, customer, checkout.Request{CouponCode: "SAVE50", PaymentMethod: order.MethodCOD})
	require.NoError(t, err)

	// The coupon allows a single redemption.
	other := auth.Actor{ID: "cust-2", Role: auth.RoleCustomer}
	f.fillCart(t, other.ID)
	_, err = f.svc.Commit(ctx, other, checkout.Request{CouponCode: "SAVE50", PaymentMethod: order.MethodCOD})
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, promotion.ReasonUsageLimitReached, rej.Reason)
}

func TestCommit_ConcurrentNumbersAreUnique(t *testing.T) {
	f := newFixture(t)
	const n = 50
	for i := range n {
		f.fillCart(t, fmt.Sprintf("cust-%d", i))
	}

	numbers := make([]string, n)
	var g errgroup.Group
	for i := range n {
		g.Go(func() error {
			actor := auth.Actor{ID: fmt.Sprintf("cust-%d", i), Role: auth.RoleCustomer}
			res, err := f.svc.Commit(context.Background(), actor, checkout.Request{PaymentMethod: order.MethodCOD})
			if err != nil {
				return err
			}
			numbers[i] = res.Order.Number
			return nil
		})
	}
	require.NoError(t, g.Wait())

	slices.Sort(numbers)
	for i, num := range numbers {
		assert.Equal(t, fmt.Sprintf("ORD%06d", i+1), num)
	}
}
