// Package outbox records domain events in the same unit of work as the state
// change they describe and relays them to a broker at least once.
package outbox

import (
	"context"
	"time"

	"github.com/go-faster/jx"
	"github.com/google/uuid"
)

// Event types.
const (
	OrderPlaced             = "order.placed"
	OrderStatusChanged      = "order.status_changed"
	OrderCancelled          = "order.cancelled"
	OrderReturned           = "order.returned"
	PaymentCaptured         = "payment.captured"
	PaymentFailed           = "payment.failed"
	WalletTransactionPosted = "wallet.transaction_posted"
)

// Event is a pending domain event. Payload is a JSON object.
type Event struct {
	ID          string
	Type        string
	AggregateID string
	Payload     []byte
	CreatedAt   time.Time
	Attempts    int
}

// New builds an event whose payload object is written by fields.
func New(typ, aggregateID string, at time.Time, fields func(e *jx.Encoder)) Event {
	var e jx.Encoder
	e.ObjStart()
	if fields != nil {
		fields(&e)
	}
	e.ObjEnd()
	return Event{
		ID:          uuid.New().String(),
		Type:        typ,
		AggregateID: aggregateID,
		Payload:     e.Bytes(),
		CreatedAt:   at,
	}
}

// Envelope wraps the event for publishing. The aggregate id doubles as the
// correlation id and the partition key so one order's events stay ordered.
func Envelope(ev Event, producer string) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("event_id")
	e.Str(ev.ID)
	e.FieldStart("event_type")
	e.Str(ev.Type)
	e.FieldStart("event_version")
	e.Int(1)
	e.FieldStart("occurred_at")
	e.Str(ev.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.FieldStart("producer")
	e.Str(producer)
	e.FieldStart("correlation_id")
	e.Str(ev.AggregateID)
	e.FieldStart("payload")
	if len(ev.Payload) == 0 {
		e.Null()
	} else {
		e.Raw(ev.Payload)
	}
	e.ObjEnd()
	return e.Bytes()
}

// Writer appends events inside a unit of work.
type Writer interface {
	Append(ctx context.Context, ev Event) error
}

// Store hands out batches of unpublished events to relays.
type Store interface {
	// Claim leases up to limit unpublished events, oldest first. Events
	// leased by another relay are skipped until the lease expires.
	Claim(ctx context.Context, limit int, lease time.Duration) ([]Event, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
	// Release returns events to the queue after a failed publish.
	Release(ctx context.Context, ids []string, lastErr string) error
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
}
