package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/reprog-billing/internal/auth"
	"github.com/xenking/reprog-billing/internal/billdoc"
	"github.com/xenking/reprog-billing/internal/domain/bill"
	"github.com/xenking/reprog-billing/internal/domain/notice"
	"github.com/xenking/reprog-billing/internal/domain/order"
	"github.com/xenking/reprog-billing/internal/domain/reconcile"
	"github.com/xenking/reprog-billing/internal/gateway/monetico"
	"github.com/xenking/reprog-billing/internal/handler"
	"github.com/xenking/reprog-billing/internal/metrics"
	"github.com/xenking/reprog-billing/internal/notify"
	"github.com/xenking/reprog-billing/internal/repository"
	"github.com/xenking/reprog-billing/pkg/health"
	"github.com/xenking/reprog-billing/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the notice relay,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	vat, err := cfg.VAT()
	if err != nil {
		return err
	}

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Repositories.
	outbox := repository.NewOutboxRepository(pool)
	stats := repository.NewStatsRepository(pool)

	// Notice delivery.
	var publisher notice.Publisher = notify.LogPublisher{}
	var broker *notify.AMQPPublisher
	if cfg.AMQP.URL != "" {
		broker, err = notify.Dial(ctx, cfg.AMQP)
		if err != nil {
			return errors.Wrap(err, "dial broker")
		}
		defer func() { _ = broker.Close() }()
		publisher = broker
	} else {
		lg.Warn("No AMQP URL configured, notices go to the log")
	}
	relay := notify.NewRelay(outbox, publisher, cfg.Relay)

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddReadinessCheck("notice_outbox", 5*time.Second,
		health.BacklogCheck(stats.PendingNotices, cfg.Health.MaxOutboxDepth))
	if broker != nil {
		healthSvc.AddReadinessCheck("rabbitmq", time.Second, broker.Check)
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(cfg.Health.MaxGoroutines))
	healthSvc.Start(ctx, cfg.Health.Interval)
	defer healthSvc.Stop()

	// Gateway and domain services.
	gateway, err := monetico.NewClient(cfg.Gateway, &http.Client{
		Timeout: 20 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	})
	if err != nil {
		return errors.Wrap(err, "create gateway client")
	}
	coordinator, err := reconcile.New(repository.NewTransactor(pool), gateway,
		reconcile.WithMeterProvider(m.MeterProvider()),
		reconcile.WithTracerProvider(m.TracerProvider()),
		reconcile.WithAlerter(reconcile.LogAlerter{}),
	)
	if err != nil {
		return errors.Wrap(err, "create coordinator")
	}
	verifier, err := auth.NewVerifier([]byte(cfg.Auth.Secret), cfg.Auth.Issuer)
	if err != nil {
		return errors.Wrap(err, "create token verifier")
	}

	h := newHandler(pool, gateway, coordinator, verifier, vat, cfg.Issuer)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	mux.Handle("GET /metrics", metrics.Handler(metrics.NewRegistry(stats, lg)))
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("billing-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests("/livez", "/readyz", "/metrics"),
			httpmiddleware.Recovery(),
		),
	}
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Notice relay started", zap.Duration("interval", cfg.Relay.Interval))
		return relay.Run(gctx)
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// newHandler wires the HTTP handlers to their pool-backed collaborators.
func newHandler(
	pool *pgxpool.Pool,
	gateway *monetico.Client,
	coordinator *reconcile.Coordinator,
	verifier *auth.Verifier,
	vat decimal.Decimal,
	issuer billdoc.Issuer,
) *handler.Handler {
	return handler.New(
		handler.Config{TPE: gateway.TPE(), Currency: gateway.Currency(), Issuer: issuer},
		handler.Deps{
			Carts: order.NewService(
				repository.NewArticleRepository(pool),
				repository.NewOrderRepository(pool),
				vat,
			),
			Reconciler: coordinator,
			Bills:      bill.NewSequencer(repository.NewBillRepository(pool)),
			Customers:  repository.NewCustomerRepository(pool),
			Forms:      gateway,
			Verifier:   gateway.Signer(),
			Auth:       verifier,
		},
	)
}
