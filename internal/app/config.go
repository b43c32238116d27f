package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage     string `default:"postgres" usage:"Storage backend: postgres or memory"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	// RedisAddr enables webhook de-duplication when set.
	RedisAddr     string        `usage:"Redis address for webhook de-duplication" flag:"redis-addr"`
	RedisPassword string        `usage:"Redis password" flag:"redis-password"`
	JWTSecret     string        `usage:"HMAC secret for bearer tokens (SHOP_JWT_SECRET)" flag:"jwt-secret"`
	TokenTTL      time.Duration `default:"24h" usage:"Lifetime of issued bearer tokens" flag:"token-ttl"`
	APIKeyPepper  string        `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Currency      string        `default:"INR" usage:"ISO currency of all amounts"`
	Kafka         KafkaConfig
	Payment       PaymentConfig
	Pricing       PricingConfig
	Sequence      SequenceConfig
	Outbox        OutboxConfig
	RateLimit     RateLimitConfig
	Graceful      GracefulConfig
}

// KafkaConfig locates the broker the outbox relay publishes to.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka bootstrap brokers"`
	Topic   string   `default:"shop.events" usage:"Topic for domain events"`
}

// PaymentConfig holds the gateway credentials.
type PaymentConfig struct {
	KeyID         string        `usage:"Gateway API key id" flag:"payment-key-id"`
	KeySecret     string        `usage:"Gateway API key secret, also signs checkout callbacks" flag:"payment-key-secret"`
	WebhookSecret string        `usage:"Secret signing webhook bodies" flag:"payment-webhook-secret"`
	GatewayURL    string        `default:"https://api.razorpay.com/v1" usage:"Gateway REST base URL" flag:"payment-gateway-url"`
	Timeout       time.Duration `default:"10s" usage:"Gateway request timeout"`
}

// PricingConfig holds the shipping and tax policy. Amounts are decimal
// strings so no float rounding sneaks in.
type PricingConfig struct {
	ShippingCharge    string `default:"40" usage:"Flat shipping charge"`
	FreeShippingAbove string `default:"500" usage:"Merchandise amount from which shipping is free, 0 disables"`
	TaxRate           string `default:"0" usage:"Tax percent on the discounted merchandise amount"`
}

// SequenceConfig shapes order numbers.
type SequenceConfig struct {
	Prefix   string        `default:"ORD" usage:"Order number prefix"`
	Width    int           `default:"6" usage:"Zero padded digits"`
	Attempts int           `default:"3" usage:"Attempts to advance the counter"`
	Backoff  time.Duration `default:"50ms" usage:"Base delay between attempts"`
}

// OutboxConfig tunes the outbox relay.
type OutboxConfig struct {
	BatchSize int           `default:"100" usage:"Events claimed per batch"`
	Interval  time.Duration `default:"1s" usage:"Poll interval when idle"`
	Lease     time.Duration `default:"30s" usage:"How long a claimed batch is hidden from other relays"`
	// HealthAddr serves the relay's /livez and /readyz; empty disables it.
	HealthAddr string `default:"0.0.0.0:8081" usage:"Relay health listen address" flag:"outbox-health-addr"`
}

// RateLimitConfig controls the per-caller sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// Pricing holds the parsed PricingConfig.
type Pricing struct {
	ShippingCharge    decimal.Decimal
	FreeShippingAbove decimal.Decimal
	TaxRate           decimal.Decimal
}

// Parse converts the configured amounts.
func (p PricingConfig) Parse() (Pricing, error) {
	var out Pricing
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"shipping charge", p.ShippingCharge, &out.ShippingCharge},
		{"free shipping threshold", p.FreeShippingAbove, &out.FreeShippingAbove},
		{"tax rate", p.TaxRate, &out.TaxRate},
	} {
		v, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return Pricing{}, errors.Wrapf(err, "parse %s", f.name)
		}
		if v.IsNegative() {
			return Pricing{}, errors.Errorf("%s must not be negative", f.name)
		}
		*f.dst = v
	}
	return out, nil
}

// LoadConfig reads .env when present, then environment variables and YAML
// config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRelayConfig loads the same sources as LoadConfig but only requires what
// the outbox relay uses.
func LoadRelayConfig() (*Config, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if err := cfg.validateRelay(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	return &cfg, nil
}

func (c *Config) validateRelay() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka brokers are required: set SHOP_KAFKA_BROKERS")
	}
	if c.Kafka.Topic == "" {
		return errors.New("kafka topic is required")
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}
	if c.JWTSecret == "" {
		return errors.New("jwt secret is required: set SHOP_JWT_SECRET")
	}
	if _, err := c.Pricing.Parse(); err != nil {
		return errors.Wrap(err, "pricing")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
