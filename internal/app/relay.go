package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-ledger/internal/broker/kafka"
	"github.com/xenking/kart-ledger/internal/domain/outbox"
	"github.com/xenking/kart-ledger/internal/storage/postgres"
	"github.com/xenking/kart-ledger/pkg/health"
	"github.com/xenking/kart-ledger/pkg/httpmiddleware"
)

// RunRelay publishes committed outbox events to Kafka until ctx is done.
// Several relays may run side by side; claims are leased so no event is
// handed to two of them at once.
func RunRelay(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing outbox relay",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("topic", cfg.Kafka.Topic),
	)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()
	store := postgres.New(pool)

	pub := kafka.NewPublisher(kafka.Config{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		Producer: serviceName,
	})
	defer func() {
		if err := pub.Close(); err != nil {
			lg.Warn("Close kafka publisher", zap.Error(err))
		}
	}()

	relay := outbox.NewRelay(store, pub, outbox.RelayConfig{
		BatchSize: cfg.Outbox.BatchSize,
		Interval:  cfg.Outbox.Interval,
		Lease:     cfg.Outbox.Lease,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(ctx)
	})

	if cfg.Outbox.HealthAddr != "" {
		hs := health.New()
		hs.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(1000))
		hs.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(store))
		hs.AddReadinessCheck("kafka", 5*time.Second, func(ctx context.Context) error {
			return kafka.Ping(ctx, cfg.Kafka.Brokers)
		})
		hs.Start(ctx, 10*time.Second)
		hs.SetReady(true)

		router := chi.NewRouter()
		router.Get("/livez", hs.LiveEndpoint)
		router.Get("/readyz", hs.ReadyEndpoint)

		server := &http.Server{
			ReadHeaderTimeout: time.Second,
			Addr:              cfg.Outbox.HealthAddr,
			Handler: httpmiddleware.Wrap(router,
				httpmiddleware.Recovery(),
				httpmiddleware.Instrument(serviceName+"-relay", m.TracerProvider(), m.MeterProvider()),
			),
		}
		g.Go(func() error {
			return serve(ctx, lg, server, hs, cfg.Graceful)
		})
	}

	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "outbox relay")
	}
	lg.Info("Outbox relay stopped")
	return nil
}
