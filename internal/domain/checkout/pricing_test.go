package checkout

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFlatShipping(t *testing.T) {
	policy := FlatShipping{Charge: decimal.RequireFromString("49.999"), FreeAbove: decimal.NewFromInt(1000)}
	tests := []struct {
		merchandise string
		want        string
	}{
		{merchandise: "0", want: "50"},
		{merchandise: "999.99", want: "50"},
		{merchandise: "1000", want: "0"},
		{merchandise: "2500", want: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.merchandise, func(t *testing.T) {
			got := policy.Shipping(decimal.RequireFromString(tt.merchandise))
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}

	always := FlatShipping{Charge: decimal.NewFromInt(40)}
	assert.True(t, decimal.NewFromInt(40).Equal(always.Shipping(decimal.NewFromInt(1_000_000))))
	assert.True(t, FlatShipping{}.Shipping(decimal.NewFromInt(10)).IsZero())
}

func TestPercentTax(t *testing.T) {
	tests := []struct {
		name        string
		rate        string
		merchandise string
		want        string
	}{
		{name: "five percent", rate: "5", merchandise: "1100", want: "55"},
		{name: "rounds half up to cents", rate: "18", merchandise: "10.25", want: "1.85"},
		{name: "zero rate", rate: "0", merchandise: "100", want: "0"},
		{name: "nothing to tax", rate: "18", merchandise: "0", want: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PercentTax{Rate: decimal.RequireFromString(tt.rate)}.Tax(decimal.RequireFromString(tt.merchandise))
			assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
		})
	}
}
