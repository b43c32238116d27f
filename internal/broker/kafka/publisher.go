// Package kafka publishes outbox events to a Kafka topic.
package kafka

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/outbox"
)

// Header keys set on every message.
const (
	HeaderEventType = "event_type"
	HeaderEventID   = "event_id"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

var _ outbox.Publisher = (*Publisher)(nil)

// Config selects the brokers and topic.
type Config struct {
	Brokers      []string
	Topic        string
	Producer     string
	WriteTimeout time.Duration
}

// Publisher writes envelopes keyed by aggregate id, so every event of one
// order lands on the same partition in commit order.
type Publisher struct {
	w        messageWriter
	producer string
}

// NewPublisher creates a synchronous publisher acknowledged by all in-sync
// replicas.
func NewPublisher(cfg Config) *Publisher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Publisher{
		w: &kafkago.Writer{
			Addr:                   kafkago.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafkago.Hash{},
			RequiredAcks:           kafkago.RequireAll,
			WriteTimeout:           cfg.WriteTimeout,
			AllowAutoTopicCreation: true,
		},
		producer: cfg.Producer,
	}
}

// Publish writes the batch. Either the broker accepted every message or an
// error is returned and the relay retries the whole batch.
func (p *Publisher) Publish(ctx context.Context, events []outbox.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(events))
	for i, ev := range events {
		msgs[i] = kafkago.Message{
			Key:   []byte(ev.AggregateID),
			Value: outbox.Envelope(ev, p.producer),
			Time:  ev.CreatedAt,
			Headers: []kafkago.Header{
				{Key: HeaderEventType, Value: []byte(ev.Type)},
				{Key: HeaderEventID, Value: []byte(ev.ID)},
			},
		}
	}
	if err := p.w.WriteMessages(ctx, msgs...); err != nil {
		return errors.Wrap(apperr.ErrUnavailable, err.Error())
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}

// Ping succeeds when one of brokers answers a metadata request.
func Ping(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	var (
		d    kafkago.Dialer
		last error
	)
	for _, addr := range brokers {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			last = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err == nil {
			return nil
		}
		last = err
	}
	return errors.Wrap(last, "kafka")
}
