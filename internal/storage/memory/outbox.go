package memory

import (
	"context"
	"slices"
	"time"

	"github.com/xenking/kart-ledger/internal/domain/outbox"
)

type events struct{ u *unit }

func (e events) Append(_ context.Context, ev outbox.Event) error {
	e.u.d.events = append(e.u.d.events, outboxRow{event: ev})
	return nil
}

// Claim implements outbox.Store.
func (s *Store) Claim(_ context.Context, limit int, lease time.Duration) ([]outbox.Event, error) {
	now := s.now()
	var out []outbox.Event
	s.locked(func(d *data) {
		for i := range d.events {
			row := &d.events[i]
			if len(out) == limit {
				break
			}
			if !row.publishedAt.IsZero() || row.leasedUntil.After(now) {
				continue
			}
			row.leasedUntil = now.Add(lease)
			row.event.Attempts++
			out = append(out, row.event)
		}
	})
	return out, nil
}

// MarkPublished implements outbox.Store.
func (s *Store) MarkPublished(_ context.Context, ids []string, at time.Time) error {
	s.locked(func(d *data) {
		for i := range d.events {
			if slices.Contains(ids, d.events[i].event.ID) {
				d.events[i].publishedAt = at
			}
		}
	})
	return nil
}

// Release implements outbox.Store.
func (s *Store) Release(_ context.Context, ids []string, lastErr string) error {
	s.locked(func(d *data) {
		for i := range d.events {
			if slices.Contains(ids, d.events[i].event.ID) {
				d.events[i].leasedUntil = time.Time{}
				d.events[i].lastErr = lastErr
			}
		}
	})
	return nil
}

// Events returns every recorded event in append order.
func (s *Store) Events() []outbox.Event {
	var out []outbox.Event
	s.locked(func(d *data) {
		for _, row := range d.events {
			out = append(out, row.event)
		}
	})
	return out
}
