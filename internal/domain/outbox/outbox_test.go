package outbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu        sync.Mutex
	pending   []Event
	published []string
	released  []string
}

func (m *memStore) Claim(_ context.Context, limit int, _ time.Duration) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := min(limit, len(m.pending))
	out := m.pending[:n]
	m.pending = m.pending[n:]
	return out, nil
}

func (m *memStore) MarkPublished(_ context.Context, ids []string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, ids...)
	return nil
}

func (m *memStore) Release(_ context.Context, ids []string, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, ids...)
	return nil
}

type fakePublisher struct {
	got []Event
	err error
}

func (f *fakePublisher) Publish(_ context.Context, events []Event) error {
	if f.err != nil {
		return f.err
	}
	f.got = append(f.got, events...)
	return nil
}

func TestNew_Payload(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := New(OrderCancelled, "o-1", at, func(e *jx.Encoder) {
		e.FieldStart("order_number")
		e.Str("ORD000042")
		e.FieldStart("refund")
		e.Str("750.00")
	})

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, OrderCancelled, ev.Type)
	assert.JSONEq(t, `{"order_number":"ORD000042","refund":"750.00"}`, string(ev.Payload))

	env := Envelope(ev, "kart-ledger")
	assert.JSONEq(t, `{
		"event_id": "`+ev.ID+`",
		"event_type": "order.cancelled",
		"event_version": 1,
		"occurred_at": "2025-01-02T03:04:05Z",
		"producer": "kart-ledger",
		"correlation_id": "o-1",
		"payload": {"order_number":"ORD000042","refund":"750.00"}
	}`, string(env))
}

func TestRelay_Drain(t *testing.T) {
	store := &memStore{}
	for i := range 5 {
		store.pending = append(store.pending, New(OrderPlaced, "o", time.Now(), func(e *jx.Encoder) {
			e.FieldStart("i")
			e.Int(i)
		}))
	}
	pub := &fakePublisher{}
	r := NewRelay(store, pub, RelayConfig{BatchSize: 3})

	n, err := r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = r.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = r.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Len(t, pub.got, 5)
	assert.Len(t, store.published, 5)
}

func TestRelay_PublishFailureReleases(t *testing.T) {
	store := &memStore{pending: []Event{New(OrderPlaced, "o", time.Now(), nil)}}
	r := NewRelay(store, &fakePublisher{err: errors.New("broker down")}, RelayConfig{})

	_, err := r.Drain(context.Background())
	require.Error(t, err)
	assert.Empty(t, store.published)
	assert.Len(t, store.released, 1)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRelay(&memStore{}, &fakePublisher{}, RelayConfig{Interval: time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
