package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/outbox"
)

type recordingWriter struct {
	msgs []kafkago.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestPublisher_Publish(t *testing.T) {
	w := &recordingWriter{}
	p := &Publisher{w: w, producer: "kart-ledger"}

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := outbox.New(outbox.OrderPlaced, "order-1", at, func(e *jx.Encoder) {
		e.FieldStart("order_number")
		e.Str("ORD000001")
	})

	require.NoError(t, p.Publish(context.Background(), []outbox.Event{ev}))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "order-1", string(msg.Key))
	assert.Equal(t, at, msg.Time)
	assert.Equal(t, []kafkago.Header{
		{Key: HeaderEventType, Value: []byte(outbox.OrderPlaced)},
		{Key: HeaderEventID, Value: []byte(ev.ID)},
	}, msg.Headers)
	assert.JSONEq(t, `{
		"event_id": "`+ev.ID+`",
		"event_type": "order.placed",
		"event_version": 1,
		"occurred_at": "2025-03-01T12:00:00Z",
		"producer": "kart-ledger",
		"correlation_id": "order-1",
		"payload": {"order_number": "ORD000001"}
	}`, string(msg.Value))
}

func TestPublisher_BrokerFailure(t *testing.T) {
	p := &Publisher{w: &recordingWriter{err: errors.New("leader not available")}}

	err := p.Publish(context.Background(), []outbox.Event{outbox.New(outbox.OrderPlaced, "o", time.Now(), nil)})
	require.ErrorIs(t, err, apperr.ErrUnavailable)
	assert.Contains(t, err.Error(), "leader not available")

	require.NoError(t, p.Publish(context.Background(), nil))
}
