package outbox

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// RelayConfig tunes the relay loop.
type RelayConfig struct {
	BatchSize int
	Interval  time.Duration
	Lease     time.Duration
}

// Relay moves claimed events from the store to a publisher. Delivery is at
// least once: an event is marked published only after the broker accepted it.
type Relay struct {
	store Store
	pub   Publisher
	cfg   RelayConfig
	now   func() time.Time
}

// NewRelay creates a Relay. Zero config fields get defaults.
func NewRelay(store Store, pub Publisher, cfg RelayConfig) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Lease <= 0 {
		cfg.Lease = 30 * time.Second
	}
	return &Relay{store: store, pub: pub, cfg: cfg, now: time.Now}
}

// Drain publishes one batch and returns how many events were delivered.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	events, err := r.store.Claim(ctx, r.cfg.BatchSize, r.cfg.Lease)
	if err != nil {
		return 0, errors.Wrap(err, "claim events")
	}
	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}

	if err := r.pub.Publish(ctx, events); err != nil {
		if relErr := r.store.Release(ctx, ids, err.Error()); relErr != nil {
			zctx.From(ctx).Error("Release outbox events", zap.Error(relErr))
		}
		return 0, errors.Wrap(err, "publish events")
	}
	if err := r.store.MarkPublished(ctx, ids, r.now()); err != nil {
		return 0, errors.Wrap(err, "mark published")
	}
	return len(events), nil
}

// Run drains until ctx is done. Full batches are drained back to back;
// otherwise the relay waits for the interval.
func (r *Relay) Run(ctx context.Context) error {
	lg := zctx.From(ctx)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		n, err := r.Drain(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			lg.Warn("Outbox drain failed", zap.Error(err))
		case n > 0:
			lg.Debug("Outbox events published", zap.Int("count", n))
		}
		if err == nil && n == r.cfg.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
