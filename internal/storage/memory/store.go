// Package memory is a transactional in-process implementation of every
// domain store. Units of work are serialized behind one mutex and rolled back
// from a snapshot when they fail, which gives the same all-or-nothing
// behavior the domain relies on from PostgreSQL. It backs tests and local
// runs without a database.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xenking/kart-ledger/internal/domain/auth"
	"github.com/xenking/kart-ledger/internal/domain/cart"
	"github.com/xenking/kart-ledger/internal/domain/order"
	"github.com/xenking/kart-ledger/internal/domain/outbox"
	"github.com/xenking/kart-ledger/internal/domain/product"
	"github.com/xenking/kart-ledger/internal/domain/promotion"
	"github.com/xenking/kart-ledger/internal/domain/sequence"
	"github.com/xenking/kart-ledger/internal/domain/wallet"
)

var (
	_ order.Transactor       = (*Store)(nil)
	_ order.Reader           = (*Store)(nil)
	_ wallet.Transactor      = (*Store)(nil)
	_ wallet.Reader          = (*Store)(nil)
	_ promotion.OfferSource  = (*Store)(nil)
	_ promotion.CouponSource = (*Store)(nil)
	_ cart.Repository        = (*Store)(nil)
	_ product.Repository     = (*Store)(nil)
	_ sequence.Source        = (*Store)(nil)
	_ outbox.Store           = (*Store)(nil)
	_ auth.KeyRepository     = (*Store)(nil)
	_ order.UnitOfWork       = (*unit)(nil)
	_ order.Store            = orders{}
	_ wallet.Store           = wallets{}
	_ promotion.Redeemer     = coupons{}
	_ cart.Clearer           = carts{}
	_ outbox.Writer          = events{}
)

type outboxRow struct {
	event       outbox.Event
	publishedAt time.Time
	leasedUntil time.Time
	lastErr     string
}

type data struct {
	products map[string]product.Product
	offers   map[int64]promotion.Offer
	coupons  map[string]promotion.Coupon
	usages   []promotion.Usage
	carts    map[string]cart.Cart
	orders   map[string]order.Order
	wallets  map[string]wallet.Wallet
	txs      []wallet.Transaction
	events   []outboxRow
	keys     map[string]auth.APIKey
}

func newData() *data {
	return &data{
		products: make(map[string]product.Product),
		offers:   make(map[int64]promotion.Offer),
		coupons:  make(map[string]promotion.Coupon),
		carts:    make(map[string]cart.Cart),
		orders:   make(map[string]order.Order),
		wallets:  make(map[string]wallet.Wallet),
		keys:     make(map[string]auth.APIKey),
	}
}

// clone copies every table. Rows are values, and the slices inside them are
// never written in place, so a shallow copy per table is enough.
func (d *data) clone() *data {
	return &data{
		products: maps.Clone(d.products),
		offers:   maps.Clone(d.offers),
		coupons:  maps.Clone(d.coupons),
		usages:   slices.Clone(d.usages),
		carts:    maps.Clone(d.carts),
		orders:   maps.Clone(d.orders),
		wallets:  maps.Clone(d.wallets),
		txs:      slices.Clone(d.txs),
		events:   slices.Clone(d.events),
		keys:     maps.Clone(d.keys),
	}
}

// Store holds all tables in memory.
type Store struct {
	mu  sync.Mutex
	d   *data
	seq atomic.Int64
	now func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{d: newData(), now: time.Now}
}

// atomically runs fn with exclusive access and restores the previous tables
// if it fails.
func (s *Store) atomically(fn func(u *unit) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.d.clone()
	if err := fn(&unit{d: s.d, now: s.now}); err != nil {
		s.d = snap
		return err
	}
	return nil
}

func (s *Store) locked(fn func(d *data)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.d)
}

// WithinOrderTx implements order.Transactor.
func (s *Store) WithinOrderTx(_ context.Context, fn func(order.UnitOfWork) error) error {
	return s.atomically(func(u *unit) error { return fn(u) })
}

// WithinWalletTx implements wallet.Transactor.
func (s *Store) WithinWalletTx(_ context.Context, fn func(wallet.Store) error) error {
	return s.atomically(func(u *unit) error { return fn(wallets{u}) })
}

// NextOrderSeq implements sequence.Source. Like a database sequence it is
// not rolled back with the unit of work, so numbers are never reused.
func (s *Store) NextOrderSeq(_ context.Context) (int64, error) {
	return s.seq.Add(1), nil
}

// SetOrderSeq sets the last issued sequence value.
func (s *Store) SetOrderSeq(n int64) {
	s.seq.Store(n)
}

// unit is the view of the tables handed to one unit of work.
type unit struct {
	d   *data
	now func() time.Time
}

func (u *unit) Orders() order.Store { return orders{u} }
func (u *unit) Wallets() wallet.Store { return wallets{u} }
func (u *unit) Coupons() promotion.Redeemer { return coupons{u} }
func (u *unit) Carts() cart.Clearer { return carts{u} }
func (u *unit) Outbox() outbox.Writer { return events{u} }
