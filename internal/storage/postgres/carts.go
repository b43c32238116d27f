package postgres

import (
	"context"
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-ledger/internal/domain/cart"
)

const (
	getCartSQL  = `SELECT items, updated_at FROM carts WHERE user_id = $1`
	saveCartSQL = `INSERT INTO carts (user_id, items, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET items = EXCLUDED.items, updated_at = EXCLUDED.updated_at`
	clearCartSQL = `DELETE FROM carts WHERE user_id = $1`
)

type cartItemRow struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

// GetCart returns the customer's cart, or an empty one.
func (s *Store) GetCart(ctx context.Context, userID string) (*cart.Cart, error) {
	c := &cart.Cart{UserID: userID}
	var items []byte
	err := s.pool.QueryRow(ctx, getCartSQL, userID).Scan(&items, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return nil, errors.Wrapf(mapErr(err), "get cart of %s", userID)
	}

	var rows []cartItemRow
	if err := json.Unmarshal(items, &rows); err != nil {
		return nil, errors.Wrapf(err, "decode cart of %s", userID)
	}
	for _, r := range rows {
		c.Items = append(c.Items, cart.Item(r))
	}
	return c, nil
}

// SaveCart replaces the customer's cart.
func (s *Store) SaveCart(ctx context.Context, c *cart.Cart) error {
	rows := make([]cartItemRow, len(c.Items))
	for i, it := range c.Items {
		rows[i] = cartItemRow(it)
	}
	items, err := json.Marshal(rows)
	if err != nil {
		return errors.Wrap(err, "encode cart")
	}
	if _, err := s.pool.Exec(ctx, saveCartSQL, c.UserID, items, c.UpdatedAt); err != nil {
		return errors.Wrapf(mapErr(err), "save cart of %s", c.UserID)
	}
	return nil
}

type carts struct{ q querier }

func (r carts) Clear(ctx context.Context, userID string) error {
	if _, err := r.q.Exec(ctx, clearCartSQL, userID); err != nil {
		return errors.Wrapf(mapErr(err), "clear cart of %s", userID)
	}
	return nil
}
