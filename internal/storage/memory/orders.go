package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/cart"
	"github.com/xenking/kart-ledger/internal/domain/order"
	"github.com/xenking/kart-ledger/internal/domain/paging"
)

type orders struct{ u *unit }

func (o orders) Create(_ context.Context, ord *order.Order) error {
	for _, existing := range o.u.d.orders {
		if existing.ID == ord.ID || existing.Number == ord.Number {
			return errors.Wrapf(apperr.ErrConflict, "order %s already exists", ord.Number)
		}
	}
	o.u.d.orders[ord.ID] = *ord
	return nil
}

func (o orders) Get(_ context.Context, id string) (*order.Order, error) {
	ord, ok := o.u.d.orders[id]
	if !ok {
		return nil, errors.Wrapf(apperr.ErrNotFound, "order %s", id)
	}
	return &ord, nil
}

func (o orders) GetByGatewayOrder(_ context.Context, gatewayOrderID string) (*order.Order, error) {
	for _, ord := range o.u.d.orders {
		if gatewayOrderID != "" && ord.GatewayOrderID == gatewayOrderID {
			return &ord, nil
		}
	}
	return nil, errors.Wrapf(apperr.ErrNotFound, "order for gateway order %s", gatewayOrderID)
}

func (o orders) Update(_ context.Context, ord *order.Order, expected order.State) error {
	current, ok := o.u.d.orders[ord.ID]
	if !ok {
		return errors.Wrapf(apperr.ErrNotFound, "order %s", ord.ID)
	}
	if current.State() != expected {
		return errors.Wrapf(apperr.ErrConflict, "order %s is %s/%s", ord.ID, current.Status, current.PaymentStatus)
	}
	o.u.d.orders[ord.ID] = *ord
	return nil
}

// GetOrder implements order.Reader.
func (s *Store) GetOrder(ctx context.Context, id string) (*order.Order, error) {
	var (
		out *order.Order
		err error
	)
	s.locked(func(d *data) {
		out, err = orders{&unit{d: d}}.Get(ctx, id)
	})
	return out, err
}

// ListOrders implements order.Reader.
func (s *Store) ListOrders(_ context.Context, userID string, page order.Page) ([]order.Order, int, error) {
	var list []order.Order
	s.locked(func(d *data) {
		for _, o := range d.orders {
			if o.UserID == userID {
				list = append(list, o)
			}
		}
	})
	slices.SortFunc(list, func(a, b order.Order) int {
		if c := b.PlacedAt.Compare(a.PlacedAt); c != 0 {
			return c
		}
		return strings.Compare(b.Number, a.Number)
	})
	return paginate(list, page.Normalize())
}

type carts struct{ u *unit }

func (c carts) Clear(_ context.Context, userID string) error {
	delete(c.u.d.carts, userID)
	return nil
}

// GetCart implements cart.Repository.
func (s *Store) GetCart(_ context.Context, userID string) (*cart.Cart, error) {
	var out cart.Cart
	s.locked(func(d *data) {
		c, ok := d.carts[userID]
		if !ok {
			c = cart.Cart{UserID: userID}
		}
		out = c
		out.Items = slices.Clone(c.Items)
	})
	return &out, nil
}

// SaveCart implements cart.Repository.
func (s *Store) SaveCart(_ context.Context, c *cart.Cart) error {
	saved := *c
	saved.Items = slices.Clone(c.Items)
	if saved.UpdatedAt.IsZero() {
		saved.UpdatedAt = s.now()
	}
	s.locked(func(d *data) {
		d.carts[c.UserID] = saved
	})
	return nil
}

func paginate[T any](list []T, page paging.Page) ([]T, int, error) {
	page = page.Normalize()
	total := len(list)
	lo := min(page.Offset, total)
	hi := min(page.Offset+page.Limit, total)
	return list[lo:hi], total, nil
}
