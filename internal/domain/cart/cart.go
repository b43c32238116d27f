// Package cart holds a customer's cart until checkout.
package cart

import (
	"context"
	"time"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
)

// Item references a product variant in the cart.
type Item struct {
	ProductID string
	VariantID string
	Quantity  int
}

// Cart is owned by one customer.
type Cart struct {
	UserID    string
	Items     []Item
	UpdatedAt time.Time
}

// Empty reports whether the cart has no items.
func (c *Cart) Empty() bool {
	return c == nil || len(c.Items) == 0
}

// Validate checks item quantities and rejects duplicate lines.
func (c *Cart) Validate() error {
	seen := make(map[Item]struct{}, len(c.Items))
	for _, it := range c.Items {
		if it.ProductID == "" {
			return apperr.Invalid("items.product_id", "required")
		}
		if it.Quantity < 1 {
			return apperr.Invalid("items.quantity", "must be at least 1")
		}
		key := Item{ProductID: it.ProductID, VariantID: it.VariantID}
		if _, ok := seen[key]; ok {
			return apperr.Invalid("items", "duplicate product variant "+it.ProductID)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Repository loads and stores carts. GetCart returns an empty cart for
// customers that never saved one.
type Repository interface {
	GetCart(ctx context.Context, userID string) (*Cart, error)
	SaveCart(ctx context.Context, c *Cart) error
}

// Clearer empties a cart inside a unit of work.
type Clearer interface {
	Clear(ctx context.Context, userID string) error
}
