package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-ledger/internal/domain/auth"
	"github.com/xenking/kart-ledger/internal/domain/cart"
	"github.com/xenking/kart-ledger/internal/domain/checkout"
	"github.com/xenking/kart-ledger/internal/domain/order"
	"github.com/xenking/kart-ledger/internal/domain/payment"
	"github.com/xenking/kart-ledger/internal/domain/product"
	"github.com/xenking/kart-ledger/internal/domain/promotion"
	"github.com/xenking/kart-ledger/internal/domain/sequence"
	"github.com/xenking/kart-ledger/internal/domain/wallet"
	"github.com/xenking/kart-ledger/internal/handler"
	"github.com/xenking/kart-ledger/internal/storage/memory"
	"github.com/xenking/kart-ledger/internal/storage/postgres"
	"github.com/xenking/kart-ledger/internal/storage/redisdedup"
	"github.com/xenking/kart-ledger/pkg/health"
	"github.com/xenking/kart-ledger/pkg/httpmiddleware"
)

const serviceName = "kart-ledger"

// backend is everything the API needs from storage. Both the postgres and
// the in-memory store implement it.
type backend interface {
	order.Transactor
	order.Reader
	wallet.Transactor
	wallet.Reader
	cart.Repository
	product.Repository
	promotion.OfferSource
	promotion.CouponSource
	auth.KeyRepository
	sequence.Source
}

// openBackend connects the configured storage and registers its readiness
// check. The returned func releases it.
func openBackend(ctx context.Context, lg *zap.Logger, cfg *Config, hs *health.Health) (backend, func(), error) {
	if cfg.Storage == StorageMemory {
		lg.Warn("Using in-memory storage, data is lost on restart")
		return memory.New(), func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, errors.Wrap(err, "run migrations")
	}
	store := postgres.New(pool)
	hs.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(store))
	return store, pool.Close, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the API.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
	)

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	store, closeStore, err := openBackend(ctx, lg, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer closeStore()

	var dedup payment.Deduper = payment.NopDeduper{}
	if cfg.RedisAddr != "" {
		rdb := redisdedup.NewClient(cfg.RedisAddr, cfg.RedisPassword, 0, 2*time.Second)
		defer func() { _ = rdb.Close() }()
		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		dedup = redisdedup.New(rdb, "payment-webhook", redisdedup.DefaultTTL)
	}

	h, err := newHandler(ctx, store, dedup, m, cfg)
	if err != nil {
		return err
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Route("/api", h.Routes)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Recovery(),
			httpmiddleware.ChiRoutes(),
			httpmiddleware.Instrument(serviceName, m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.Labeler(httpmiddleware.ChiRouteFinder),
			httpmiddleware.LogRequests(httpmiddleware.ChiRouteFinder),
		),
	}

	return serve(ctx, lg, server, healthSvc, cfg.Graceful)
}

func newHandler(ctx context.Context, store backend, dedup payment.Deduper, m *app.Telemetry, cfg *Config) (*handler.Handler, error) {
	pricing, err := cfg.Pricing.Parse()
	if err != nil {
		return nil, errors.Wrap(err, "pricing")
	}
	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, errors.Wrap(err, "tokens")
	}

	gateway := payment.NewClient(payment.ClientConfig{
		BaseURL:   cfg.Payment.GatewayURL,
		KeyID:     cfg.Payment.KeyID,
		KeySecret: cfg.Payment.KeySecret,
		Timeout:   cfg.Payment.Timeout,
	})

	checkoutSvc, err := checkout.NewService(checkout.Options{
		Carts:    store,
		Products: store,
		Matcher:  promotion.NewMatcher(store, store),
		Numbers: sequence.New(store, sequence.Config{
			Prefix:   cfg.Sequence.Prefix,
			Width:    cfg.Sequence.Width,
			Attempts: cfg.Sequence.Attempts,
			Backoff:  cfg.Sequence.Backoff,
		}),
		Orders:   store,
		Gateway:  gateway,
		Shipping: checkout.FlatShipping{Charge: pricing.ShippingCharge, FreeAbove: pricing.FreeShippingAbove},
		Tax:      checkout.PercentTax{Rate: pricing.TaxRate},
		Currency: cfg.Currency,
		Tracer:   m.TracerProvider(),
		Meter:    m.MeterProvider(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "checkout service")
	}

	paymentSvc, err := payment.NewService(payment.Options{
		Orders:   store,
		Payments: payment.NewVerifier(cfg.Payment.KeySecret),
		Webhooks: payment.NewVerifier(cfg.Payment.WebhookSecret),
		Gateway:  gateway,
		Deduper:  dedup,
		Meter:    m.MeterProvider(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "payment service")
	}

	return handler.New(handler.Options{
		Checkout: checkoutSvc,
		Orders:   order.NewService(store, store),
		Payments: paymentSvc,
		Wallets:  wallet.NewService(store, store),
		Carts:    store,
		Auth:     handler.NewAuthenticator(tokens, auth.NewKeys(store, []byte(cfg.APIKeyPepper))),
		RateLimit: httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: handler.ActorKey,
		}),
	}), nil
}

// serve runs server until ctx is done, then flips readiness, waits for load
// balancers to notice and drains in-flight requests.
func serve(ctx context.Context, lg *zap.Logger, server *http.Server, hs *health.Health, g GracefulConfig) error {
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		hs.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", g.ReadinessDelay))
		time.Sleep(g.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", g.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		hs.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", server.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
