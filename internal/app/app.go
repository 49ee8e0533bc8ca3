package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/replay"
	"github.com/xenking/kart-checkout/internal/repository"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the API server.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	var guard replay.Guard = replay.NopGuard{}
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		guard = replay.NewRedisGuard(rdb, cfg.Redis.ReplayTTL)
		healthSvc.AddReadinessCheck("redis", time.Second, health.RedisCheck(func(ctx context.Context) health.StatusCmd {
			return rdb.Ping(ctx)
		}))
	} else {
		lg.Info("Redis not configured, callback replay guard disabled")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	api, err := newAPI(ctx, cfg, pool, guard, healthSvc,
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
	)
	if err != nil {
		return err
	}

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(api, "kart-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newAPI wires repositories, domain services and handlers into the
// middleware-wrapped API handler. Probe endpoints are served from healthSvc.
func newAPI(
	ctx context.Context,
	cfg *Config,
	pool *pgxpool.Pool,
	guard replay.Guard,
	healthSvc *health.Health,
	opts ...order.Option,
) (http.Handler, error) {
	gateway, err := cfg.PaymentGateway()
	if err != nil {
		return nil, errors.Wrap(err, "create payment gateway")
	}

	// Repositories.
	catalogRepo := repository.NewCatalogRepository(pool)
	cartRepo := repository.NewCartRepository(pool)
	orderStore := repository.NewOrderStore(pool)
	apikeyRepo := repository.NewAPIKeyRepository(pool)

	// Domain services.
	opts = append(opts, order.WithRetryPolicy(cfg.RetryPolicy()))
	orderService, err := order.NewService(orderStore, gateway, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create order service")
	}
	reconciler, err := order.NewReconciler(orderStore, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create reconciler")
	}

	h := handler.New(handler.Config{
		APIKeyPepper: []byte(cfg.APIKeyPepper),
		CallbackMiddleware: []httpmiddleware.Middleware{
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				RPS:   cfg.RateLimit.CallbackRPS,
				Burst: cfg.RateLimit.CallbackBurst,
			}),
		},
	}, handler.Deps{
		Catalog:  catalogRepo,
		Carts:    cart.NewService(cartRepo, catalogRepo),
		Orders:   orderService,
		Verdicts: reconciler,
		Payments: gateway,
		Replay:   guard,
		APIKeys:  apikeyRepo,
	})

	mux := h.Routes()
	healthSvc.Routes(mux)

	return httpmiddleware.Wrap(mux, apiMiddleware(zctx.From(ctx))...), nil
}

// apiMiddleware is the chain around every API route. The logger goes in
// first so the request id, the access line and recovered panics all land on
// the same request-scoped logger. Recovery is innermost so a panic still
// produces an access line with status 500.
func apiMiddleware(lg *zap.Logger) []httpmiddleware.Middleware {
	return []httpmiddleware.Middleware{
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.RequestID(),
		httpmiddleware.LogRequests(),
		httpmiddleware.Recovery(),
	}
}
