package wallet

import (
	"github.com/go-faster/jx"

	"github.com/xenking/kart-ledger/internal/domain/outbox"
)

// PostedEvent describes a completed ledger posting for downstream consumers.
func PostedEvent(t *Transaction, userID string) outbox.Event {
	return outbox.New(outbox.WalletTransactionPosted, t.WalletID, t.CreatedAt, func(e *jx.Encoder) {
		e.FieldStart("transaction_id")
		e.Str(t.ID)
		e.FieldStart("wallet_id")
		e.Str(t.WalletID)
		e.FieldStart("user_id")
		e.Str(userID)
		e.FieldStart("type")
		e.Str(string(t.Type))
		e.FieldStart("status")
		e.Str(string(t.Status))
		e.FieldStart("amount")
		e.Str(t.Amount.StringFixed(2))
		if t.OrderID != "" {
			e.FieldStart("order_id")
			e.Str(t.OrderID)
		}
	})
}
