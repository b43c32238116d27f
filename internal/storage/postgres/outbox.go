package postgres

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-ledger/internal/domain/outbox"
)

const (
	appendEventSQL = `INSERT INTO outbox_events (id, type, aggregate_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	claimEventsSQL = `UPDATE outbox_events SET leased_until = $2, attempts = attempts + 1
		WHERE id IN (
			SELECT id FROM outbox_events
			WHERE published_at IS NULL AND (leased_until IS NULL OR leased_until <= $1)
			ORDER BY created_at, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, type, aggregate_id, payload, created_at, attempts`

	markPublishedSQL = `UPDATE outbox_events SET published_at = $2, leased_until = NULL
		WHERE id = ANY($1)`

	releaseEventsSQL = `UPDATE outbox_events SET leased_until = NULL, last_error = $2
		WHERE id = ANY($1) AND published_at IS NULL`
)

type events struct{ q querier }

func (r events) Append(ctx context.Context, ev outbox.Event) error {
	_, err := r.q.Exec(ctx, appendEventSQL, ev.ID, ev.Type, ev.AggregateID, ev.Payload, ev.CreatedAt)
	if err != nil {
		return errors.Wrapf(mapErr(err), "append event %s", ev.Type)
	}
	return nil
}

// Claim leases up to limit unpublished events, oldest first.
func (s *Store) Claim(ctx context.Context, limit int, lease time.Duration) ([]outbox.Event, error) {
	now := time.Now()
	rows, err := s.pool.Query(ctx, claimEventsSQL, now, now.Add(lease), limit)
	if err != nil {
		return nil, errors.Wrap(mapErr(err), "claim events")
	}
	list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Event, error) {
		var ev outbox.Event
		err := row.Scan(&ev.ID, &ev.Type, &ev.AggregateID, &ev.Payload, &ev.CreatedAt, &ev.Attempts)
		return ev, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "scan events")
	}
	// RETURNING does not preserve the subquery order.
	slices.SortStableFunc(list, func(a, b outbox.Event) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return list, nil
}

// MarkPublished records a successful delivery.
func (s *Store) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if _, err := s.pool.Exec(ctx, markPublishedSQL, ids, at); err != nil {
		return errors.Wrap(mapErr(err), "mark events published")
	}
	return nil
}

// Release drops the lease so the events are claimed again.
func (s *Store) Release(ctx context.Context, ids []string, lastErr string) error {
	if _, err := s.pool.Exec(ctx, releaseEventsSQL, ids, lastErr); err != nil {
		return errors.Wrap(mapErr(err), "release events")
	}
	return nil
}
