// Package sequence issues human-readable order numbers backed by a durable
// monotonic counter.
package sequence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
)

// ErrSequenceUnavailable is returned when the counter could not be advanced
// within the retry budget. It matches apperr.ErrUnavailable.
var ErrSequenceUnavailable = errors.Wrap(apperr.ErrUnavailable, "order number sequence unavailable")

// Source advances a durable counter shared by every server process, such as
// a database sequence. Values must be unique and increasing.
type Source interface {
	NextOrderSeq(ctx context.Context) (int64, error)
}

// Config controls number formatting and the retry budget.
type Config struct {
	Prefix   string
	Width    int
	Attempts int
	Backoff  time.Duration
}

// DefaultConfig produces numbers like ORD000042 with three attempts.
var DefaultConfig = Config{
	Prefix:   "ORD",
	Width:    6,
	Attempts: 3,
	Backoff:  50 * time.Millisecond,
}

// Sequencer formats counter values as order numbers.
type Sequencer struct {
	src   Source
	cfg   Config
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Sequencer. Zero fields in cfg fall back to DefaultConfig.
func New(src Source, cfg Config) *Sequencer {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig.Prefix
	}
	if cfg.Width <= 0 {
		cfg.Width = DefaultConfig.Width
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultConfig.Attempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	return &Sequencer{src: src, cfg: cfg, sleep: sleepCtx}
}

// Next returns the next order number. Failures to advance the counter are
// retried with a linearly growing delay; once the attempts are exhausted it
// returns ErrSequenceUnavailable. A number is never derived from anything but
// the counter, and numbers handed out are never reused.
func (s *Sequencer) Next(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		n, err := s.src.NextOrderSeq(ctx)
		if err == nil {
			return s.Format(n), nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", errors.Wrap(ctxErr, "next order number")
		}
		lastErr = err

		zctx.From(ctx).Warn("Order sequence attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.cfg.Attempts),
			zap.Error(err),
		)

		if attempt == s.cfg.Attempts {
			break
		}
		if err := s.sleep(ctx, time.Duration(attempt)*s.cfg.Backoff); err != nil {
			return "", errors.Wrap(err, "next order number")
		}
	}
	return "", errors.Wrapf(ErrSequenceUnavailable, "last attempt: %v", lastErr)
}

// Format renders n with the configured prefix and zero padding.
func (s *Sequencer) Format(n int64) string {
	return fmt.Sprintf("%s%0*d", s.cfg.Prefix, s.cfg.Width, n)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
