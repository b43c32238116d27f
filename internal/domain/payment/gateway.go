package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// Notes keys attached to gateway orders and echoed back in webhooks.
const (
	NoteUserID      = "userId"
	NoteOrderID     = "orderId"
	NoteOrderNumber = "orderNumber"
	NotePurpose     = "purpose"

	PurposeWalletTopUp = "wallet_topup"
)

// OrderRequest asks the gateway to open a payment order.
type OrderRequest struct {
	Amount   decimal.Decimal
	Currency string
	Receipt  string
	Notes    map[string]string
}

// GatewayOrder is the gateway's handle for a pending payment.
type GatewayOrder struct {
	ID       string
	Amount   decimal.Decimal
	Currency string
	Receipt  string
}

// Gateway opens payment orders with the external payment provider.
type Gateway interface {
	CreateOrder(ctx context.Context, req OrderRequest) (*GatewayOrder, error)
}
