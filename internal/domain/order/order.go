// Package order holds the order aggregate, its status state machine and the
// application service driving cancellations and returns.
package order

import (
	"context"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-ledger/internal/domain/paging"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending         Status = "pending"
	StatusProcessing      Status = "processing"
	StatusShipping        Status = "shipping"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"
	StatusReturnRequested Status = "return_requested"
	StatusReturnApproved  Status = "return_approved"
	StatusReturnRejected  Status = "return_rejected"
	StatusReturned        Status = "returned"
)

// PaymentStatus is the settlement state of an order's payment.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	MethodWallet PaymentMethod = "wallet"
	MethodCOD    PaymentMethod = "cod"
	MethodOnline PaymentMethod = "online"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodWallet, MethodCOD, MethodOnline:
		return true
	}
	return false
}

// Item is a line of an order frozen at checkout. Later catalog changes never
// alter it.
type Item struct {
	ProductID       string
	ProductName     string
	SellerID        string
	CategoryID      string
	VariantID       string
	VariantName     string
	Quantity        int
	BasePrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	FinalPrice      decimal.Decimal
	Attributes      map[string]string
	ImageURL        string
}

// LineTotal is the final unit price times quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.FinalPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is the aggregate root. Monetary fields mirror the price breakdown
// computed at checkout.
type Order struct {
	ID     string
	Number string
	UserID string
	Items  []Item

	Subtotal        decimal.Decimal
	OfferDiscount   decimal.Decimal
	CouponDiscount  decimal.Decimal
	ShippingCharge  decimal.Decimal
	Tax             decimal.Decimal
	Total           decimal.Decimal
	AppliedOfferIDs []int64
	CouponCode      string

	Status         Status
	PaymentStatus  PaymentStatus
	PaymentMethod  PaymentMethod
	GatewayOrderID string
	PaymentID      string

	RefundAmount decimal.NullDecimal
	CancelReason string
	ReturnReason string
	RejectReason string

	PlacedAt    time.Time
	UpdatedAt   time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
}

// State is the part of an order a conditional update is keyed on.
type State struct {
	Status        Status
	PaymentStatus PaymentStatus
}

// State returns the order's current state.
func (o *Order) State() State {
	return State{Status: o.Status, PaymentStatus: o.PaymentStatus}
}

// HasSeller reports whether any item is sold by sellerID.
func (o *Order) HasSeller(sellerID string) bool {
	return slices.ContainsFunc(o.Items, func(i Item) bool { return i.SellerID == sellerID })
}

// Page selects a slice of a customer's order history.
type Page = paging.Page

// Store is the order persistence bound to one unit of work.
type Store interface {
	Create(ctx context.Context, o *Order) error
	// Get returns apperr.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Order, error)
	// GetByGatewayOrder returns apperr.ErrNotFound when no order carries the
	// gateway order id.
	GetByGatewayOrder(ctx context.Context, gatewayOrderID string) (*Order, error)
	// Update writes o only if the stored order is still in expected, and
	// returns apperr.ErrConflict otherwise.
	Update(ctx context.Context, o *Order, expected State) error
}

// Reader serves read-only order queries.
type Reader interface {
	// GetOrder returns apperr.ErrNotFound for unknown ids.
	GetOrder(ctx context.Context, id string) (*Order, error)
	// ListOrders returns the customer's orders newest first and the total count.
	ListOrders(ctx context.Context, userID string, page Page) ([]Order, int, error)
}
