package payment

import (
	"bytes"
	"context"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
)

// ClientConfig configures the gateway HTTP client.
type ClientConfig struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// Client talks to the payment gateway REST API. Amounts travel in minor
// units (cents).
type Client struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
}

var _ Gateway = (*Client)(nil)

// NewClient creates a gateway client with an instrumented transport.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

var minorUnits = decimal.NewFromInt(100)

// CreateOrder implements Gateway.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*GatewayOrder, error) {
	if !req.Amount.IsPositive() {
		return nil, apperr.Invalid("amount", "must be positive")
	}
	if req.Currency == "" {
		req.Currency = "INR"
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("amount")
	e.Int64(req.Amount.Mul(minorUnits).Round(0).IntPart())
	e.FieldStart("currency")
	e.Str(req.Currency)
	e.FieldStart("receipt")
	e.Str(req.Receipt)
	if len(req.Notes) > 0 {
		e.FieldStart("notes")
		e.ObjStart()
		for _, k := range slices.Sorted(maps.Keys(req.Notes)) {
			e.FieldStart(k)
			e.Str(req.Notes[k])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(e.Bytes()))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(apperr.ErrUnavailable, "payment gateway: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode >= 500 {
		return nil, errors.Wrapf(apperr.ErrUnavailable, "payment gateway: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return nil, errors.Errorf("payment gateway: status %d: %s", resp.StatusCode, errorDescription(body))
	}
	return decodeGatewayOrder(body)
}

func decodeGatewayOrder(body []byte) (*GatewayOrder, error) {
	var o GatewayOrder
	err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			o.ID, err = d.Str()
		case "amount":
			var minor int64
			minor, err = d.Int64()
			o.Amount = decimal.New(minor, -2)
		case "currency":
			o.Currency, err = d.Str()
		case "receipt":
			o.Receipt, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode gateway order")
	}
	if o.ID == "" {
		return nil, errors.New("decode gateway order: missing id")
	}
	return &o, nil
}

// errorDescription extracts error.description from a gateway error body.
func errorDescription(body []byte) string {
	var desc string
	_ = jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "error" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			if string(key) != "description" {
				return d.Skip()
			}
			var err error
			desc, err = d.Str()
			return err
		})
	})
	if desc == "" {
		return "unknown error"
	}
	return desc
}
