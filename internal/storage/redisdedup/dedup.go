// Package redisdedup remembers processed webhook deliveries in Redis.
package redisdedup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/kart-ledger/internal/domain/payment"
)

// DefaultTTL covers the gateway's redelivery window.
const DefaultTTL = 48 * time.Hour

const keyFormat = "dedup:%s:%s"

var _ payment.Deduper = (*Deduper)(nil)

// Deduper implements payment.Deduper with one expiring key per delivery.
type Deduper struct {
	rdb   redis.UniversalClient
	scope string
	ttl   time.Duration
}

// New returns a Deduper storing keys under scope. A non-positive ttl means DefaultTTL.
func New(rdb redis.UniversalClient, scope string, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Deduper{rdb: rdb, scope: scope, ttl: ttl}
}

func (d *Deduper) key(eventID string) string {
	return fmt.Sprintf(keyFormat, d.scope, eventID)
}

// Seen reports whether eventID was marked within the TTL.
func (d *Deduper) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.rdb.Exists(ctx, d.key(eventID)).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis exists")
	}
	return n > 0, nil
}

// Mark records eventID. Marking twice keeps the first expiry.
func (d *Deduper) Mark(ctx context.Context, eventID string) error {
	if err := d.rdb.SetNX(ctx, d.key(eventID), "1", d.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis setnx")
	}
	return nil
}

// NewClient connects to addr with the given timeouts applied to every command.
func NewClient(addr, password string, db int, timeout time.Duration) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
}
