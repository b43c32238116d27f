package app

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPricingConfig_Parse(t *testing.T) {
	p, err := PricingConfig{ShippingCharge: "40", FreeShippingAbove: " 500.00 ", TaxRate: "18"}.Parse()
	require.NoError(t, err)
	assert.True(t, p.ShippingCharge.Equal(decimal.NewFromInt(40)))
	assert.True(t, p.FreeShippingAbove.Equal(decimal.NewFromInt(500)))
	assert.True(t, p.TaxRate.Equal(decimal.NewFromInt(18)))

	_, err = PricingConfig{ShippingCharge: "forty", FreeShippingAbove: "0", TaxRate: "0"}.Parse()
	assert.ErrorContains(t, err, "shipping charge")

	_, err = PricingConfig{ShippingCharge: "0", FreeShippingAbove: "0", TaxRate: "-1"}.Parse()
	assert.ErrorContains(t, err, "tax rate must not be negative")
}

func validConfig() Config {
	return Config{
		Addr:        defaultAddr,
		Storage:     StoragePostgres,
		DatabaseURL: "postgres://localhost/shop",
		JWTSecret:   "secret",
		Pricing:     PricingConfig{ShippingCharge: "40", FreeShippingAbove: "500", TaxRate: "0"},
		Kafka:       KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "shop.events"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:   "memory needs no database",
			mutate: func(c *Config) { c.Storage, c.DatabaseURL = StorageMemory, "" },
		},
		{
			name:    "postgres needs database",
			mutate:  func(c *Config) { c.DatabaseURL = "" },
			wantErr: "database URL is required",
		},
		{
			name:    "unknown storage",
			mutate:  func(c *Config) { c.Storage = "sqlite" },
			wantErr: `unknown storage "sqlite"`,
		},
		{
			name:    "missing jwt secret",
			mutate:  func(c *Config) { c.JWTSecret = "" },
			wantErr: "jwt secret is required",
		},
		{
			name:    "bad pricing",
			mutate:  func(c *Config) { c.Pricing.TaxRate = "x" },
			wantErr: "pricing",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConfig_ValidateRelay(t *testing.T) {
	cfg := validConfig()
	cfg.JWTSecret = ""
	require.NoError(t, cfg.validateRelay(), "relay does not sign tokens")

	cfg.Kafka.Brokers = nil
	assert.ErrorContains(t, cfg.validateRelay(), "kafka brokers are required")

	cfg = validConfig()
	cfg.DatabaseURL = ""
	assert.ErrorContains(t, cfg.validateRelay(), "database URL is required")
}

func TestConfig_ApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: defaultAddr}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)

	explicit := Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/db"}
	explicit.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", explicit.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", explicit.Addr)
}
