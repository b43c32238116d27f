package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-ledger/internal/domain/apperr"
	"github.com/xenking/kart-ledger/internal/domain/paging"
)

const maxBodyBytes = 1 << 20

// decode reads a JSON body into dst and validates it. An empty body decodes
// as {} so that required fields are reported by name.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Invalid("body", "too large")
		}
		return apperr.Invalid("body", "malformed JSON")
	}
	return h.check(dst)
}

func (h *Handler) check(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return errors.Wrap(err, "validate request")
	}
	fe := fields[0]
	return apperr.Invalid(fieldPath(fe), describe(fe))
}

// fieldPath drops the struct name from the namespace, e.g.
// "putCartRequest.items[0].quantity" becomes "items[0].quantity".
func fieldPath(fe validator.FieldError) string {
	if _, rest, ok := strings.Cut(fe.Namespace(), "."); ok {
		return rest
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "numeric":
		return "must be a number"
	}
	return "failed " + fe.Tag()
}

func amount(field string, n json.Number) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, apperr.Invalid(field, "must be a number")
	}
	return d, nil
}

type pageQuery struct {
	Limit  int `json:"limit" validate:"gte=0,lte=100"`
	Offset int `json:"offset" validate:"gte=0"`
}

// page reads ?limit= and ?offset=. Missing values fall back to the defaults.
func (h *Handler) page(r *http.Request) (paging.Page, error) {
	var q pageQuery
	params := []struct {
		name string
		dst  *int
	}{{"limit", &q.Limit}, {"offset", &q.Offset}}
	for _, p := range params {
		raw := r.URL.Query().Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return paging.Page{}, apperr.Invalid(p.name, "must be an integer")
		}
		*p.dst = n
	}
	if err := h.check(&q); err != nil {
		return paging.Page{}, err
	}
	return paging.Page{Limit: q.Limit, Offset: q.Offset}.Normalize(), nil
}
