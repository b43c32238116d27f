package payment

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
)

// Webhook event names.
const (
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
)

// Entity is the payment object carried by a webhook.
type Entity struct {
	ID             string
	Amount         decimal.Decimal
	Currency       string
	GatewayOrderID string
	Status         string
	Notes          map[string]string
}

// Event is a decoded webhook delivery.
type Event struct {
	Name    string
	Payment Entity
}

// ParseEvent decodes a webhook body of the form
//
//	{"event": "...", "payload": {"payment": {"entity": {...}}}}
//
// Unknown fields are skipped.
func ParseEvent(body []byte) (*Event, error) {
	var ev Event
	err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "event":
			v, err := d.Str()
			ev.Name = v
			return err
		case "payload":
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != "payment" {
					return d.Skip()
				}
				return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					if string(key) != "entity" {
						return d.Skip()
					}
					return decodeEntity(d, &ev.Payment)
				})
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(apperr.Invalid("body", err.Error()), "parse webhook")
	}
	if ev.Name == "" {
		return nil, apperr.Invalid("event", "required")
	}
	return &ev, nil
}

func decodeEntity(d *jx.Decoder, p *Entity) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			p.ID, err = d.Str()
		case "amount":
			var minor int64
			minor, err = d.Int64()
			p.Amount = decimal.New(minor, -2)
		case "currency":
			p.Currency, err = d.Str()
		case "order_id":
			if d.Next() == jx.Null {
				return d.Null()
			}
			p.GatewayOrderID, err = d.Str()
		case "status":
			p.Status, err = d.Str()
		case "notes":
			p.Notes = make(map[string]string)
			if d.Next() != jx.Object {
				// Gateways send an empty array instead of an empty object.
				return d.Skip()
			}
			err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if d.Next() != jx.String {
					return d.Skip()
				}
				v, err := d.Str()
				p.Notes[string(key)] = v
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
}
