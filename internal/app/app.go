package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/utafrali/wishlist-sync/internal/auth"
	"github.com/utafrali/wishlist-sync/internal/broadcast"
	"github.com/utafrali/wishlist-sync/internal/catalog"
	"github.com/utafrali/wishlist-sync/internal/config"
	"github.com/utafrali/wishlist-sync/internal/event"
	handler "github.com/utafrali/wishlist-sync/internal/handler/http"
	"github.com/utafrali/wishlist-sync/internal/reconcile"
	"github.com/utafrali/wishlist-sync/internal/repository/postgres"
	"github.com/utafrali/wishlist-sync/internal/service"
	"github.com/utafrali/wishlist-sync/migrations"
	"github.com/utafrali/wishlist-sync/pkg/database"
	"github.com/utafrali/wishlist-sync/pkg/health"
	"github.com/utafrali/wishlist-sync/pkg/httpclient"
	pkgkafka "github.com/utafrali/wishlist-sync/pkg/kafka"
	"github.com/utafrali/wishlist-sync/pkg/middleware"
	"github.com/utafrali/wishlist-sync/pkg/tracing"
)

const (
	serviceName    = "wishlist"
	serviceVersion = "0.1.0"

	productDeletedGroup = "wishlist-service-product-deleted"
	idempotencyPrefix   = "wishlist:events:"
	idempotencyTTL      = 24 * time.Hour

	startupTimeout = 30 * time.Second
)

// App wires together all dependencies and runs the wishlist service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	productDeleted *pkgkafka.Consumer
	broadcaster    *broadcast.Broadcaster
	catalog        *catalog.Client
	service        *service.WishlistService
	sweeper        *reconcile.Sweeper
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// Everything opened before a failure is closed again.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.closeAll()
		}
	}()

	// Initialize OpenTelemetry tracing.
	a.tracerShutdown, err = tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: serviceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	reg := prometheus.DefaultRegisterer

	// Initialize PostgreSQL connection pool.
	a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err = database.RegisterPoolMetrics(reg, a.pool, serviceName); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}

	// Run database migrations.
	if err = database.RunMigrations(ctx, a.pool, migrations.FS, logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Redis backs the relay, the sweeper lock and event deduplication.
	a.redis, err = database.NewRedisClient(ctx, cfg.Redis(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	// Initialize Kafka producer with connection validation and retry.
	a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	if err := pingKafkaWithRetry(ctx, a.producer, logger); err != nil {
		logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
	}
	a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)

	// Stats fan-out.
	broadcastMetrics, err := broadcast.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register broadcast metrics: %w", err)
	}
	relay, err := NewRelay(cfg, a.redis, broadcastMetrics, logger)
	if err != nil {
		return nil, err
	}
	a.broadcaster = broadcast.NewBroadcaster(broadcast.NewHub(broadcast.DefaultBufferSize, broadcastMetrics), relay, broadcastMetrics, logger)

	// Catalog collaborator.
	breakerMetrics, err := httpclient.NewBreakerMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register breaker metrics: %w", err)
	}
	a.catalog = catalog.NewWithBreaker(catalog.Config{
		BaseURL: cfg.CatalogURL,
		Timeout: cfg.CatalogTimeout,
	}, breakerMetrics, logger)

	// Build the dependency graph.
	serviceMetrics, err := service.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register service metrics: %w", err)
	}
	store := postgres.NewStore(a.pool)
	stores := store.Stores()
	a.service = service.NewWishlistService(
		store,
		stores,
		a.broadcaster,
		event.NewProducer(a.producer, logger),
		a.catalog,
		serviceMetrics,
		logger,
	)

	a.sweeper = reconcile.NewSweeper(
		a.service,
		stores.Aggregates,
		reconcile.NewLeaderLock(a.redis, reconcile.LockKey, uuid.NewString()),
		reconcile.Config{Interval: cfg.ReconcileInterval, Workers: cfg.ReconcileWorkers},
		logger,
	)

	// Kafka consumer for catalog deletions, deduplicated across restarts.
	eventConsumer := event.NewConsumer(a.service, logger)
	idempotencyStore := pkgkafka.NewRedisIdempotencyStore(a.redis, idempotencyPrefix, idempotencyTTL)
	a.productDeleted = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
		Brokers:  cfg.KafkaBrokers,
		GroupID:  productDeletedGroup,
		Topic:    event.TopicProductDeleted,
		MinBytes: 1,
		MaxBytes: 10e6,
	}, pkgkafka.IdempotentHandler(idempotencyStore, eventConsumer.HandleProductDeleted, productDeletedGroup, logger), a.dlq, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return a.pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
		return a.redis.Ping(ctx).Err()
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return a.producer.Ping(ctx)
	})

	httpMetrics, err := middleware.NewHTTPMetrics(reg, serviceName)
	if err != nil {
		return nil, fmt.Errorf("register http metrics: %w", err)
	}

	cors := corsConfig(cfg)
	sessions := auth.NewSessionManager(cfg.SessionSecret, cfg.SessionAudience)
	streamer := broadcast.NewStreamer(a.broadcaster, originChecker(cors), logger)

	// HTTP router.
	router := handler.NewRouter(handler.RouterConfig{
		ServiceName:  serviceName,
		Handler:      handler.NewWishlistHandler(a.service, streamer, logger),
		Health:       healthHandler,
		Sessions:     sessions.Validate,
		Metrics:      httpMetrics,
		CORS:         cors,
		PprofCIDRs:   cfg.PprofAllowedCIDRs,
		SeedEnabled:  cfg.SeedEnabled,
		PollInterval: handler.DefaultPollInterval,
		RateLimit:    handler.RateLimitConfig{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
		Logger:       logger,
	})

	// WriteTimeout stays zero: the stats stream holds its connection open
	// and bounds each frame with its own write deadline.
	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Run starts the HTTP server, the Kafka consumer, the relay subscription
// and the reconcile sweeper, then blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 4)

	// Start HTTP server.
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go func() {
		if err := a.productDeleted.Start(ctx); err != nil {
			errCh <- fmt.Errorf("product deleted consumer: %w", err)
		}
	}()

	go func() {
		if err := a.broadcaster.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("stats relay: %w", err)
		}
	}()

	go func() {
		if err := a.sweeper.Run(ctx); err != nil {
			errCh <- fmt.Errorf("reconcile sweeper: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		_ = a.Shutdown()
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Everything else, consumers before the producers they feed
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget). Hijacked stream
	// connections are not tracked by the server; closing the hub ends them.
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after HTTP drain so in-flight request spans are captured.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}

	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeAll releases every opened dependency. The service drains its
// pending events before the Kafka producer closes, and the broadcaster
// drains its relay sends before Redis closes.
func (a *App) closeAll() error {
	var errs []error
	record := func(what string, err error) {
		if err != nil {
			a.logger.Error(what+" close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.productDeleted != nil {
		record("product deleted consumer", a.productDeleted.Close())
	}
	if a.service != nil {
		a.service.Close()
	}
	if a.broadcaster != nil {
		record("broadcaster", a.broadcaster.Close())
	}
	if a.catalog != nil {
		a.catalog.Close()
	}
	if a.dlq != nil {
		record("dlq producer", a.dlq.Close())
	}
	if a.producer != nil {
		record("kafka producer", a.producer.Close())
	}
	if a.redis != nil {
		record("redis", a.redis.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.tracerShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		record("tracer", a.tracerShutdown(ctx))
	}
	return errors.Join(errs...)
}

// NewRelay builds the cross-instance relay selected by RELAY_DRIVER. A nil
// relay keeps broadcasts local to this instance. client is only used by the
// redis driver.
func NewRelay(cfg *config.Config, client *redis.Client, metrics *broadcast.Metrics, logger *slog.Logger) (broadcast.Relay, error) {
	switch cfg.RelayDriver {
	case config.RelayRedis:
		logger.Info("stats relay over redis pub/sub")
		return broadcast.NewRedisRelay(client, metrics, logger), nil
	case config.RelayNATS:
		conn, err := broadcast.ConnectNATS(cfg.NATSURL, "wishlist-service", logger)
		if err != nil {
			return nil, err
		}
		logger.Info("stats relay over nats", slog.String("url", conn.ConnectedUrl()))
		return broadcast.NewNATSRelay(conn, metrics, logger), nil
	default:
		logger.Info("stats relay disabled, broadcasts stay local")
		return nil, nil
	}
}

// corsConfig allows the admin origins from config plus every storefront.
func corsConfig(cfg *config.Config) middleware.CORSConfig {
	c := middleware.DefaultCORSConfig()
	c.AllowedOrigins = cfg.CORSAllowedOrigins
	c.Environment = cfg.Environment
	return c
}

// originChecker vets WebSocket upgrades with the CORS rules. Requests
// without an Origin header come from non-browser clients and are allowed.
func originChecker(cors middleware.CORSConfig) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || cors.OriginAllowed(origin)
	}
}

// pingKafkaWithRetry pings the brokers with exponential backoff
// (3 attempts, 1s/2s with ±25% jitter).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0.25
	b.MaxElapsedTime = 0

	attempt := 0
	ping := func() error {
		attempt++
		return producer.Ping(ctx)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("kafka producer ping failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", 3),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(ping, backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx), notify); err != nil {
		return fmt.Errorf("kafka producer ping failed after %d attempts: %w", attempt, err)
	}
	return nil
}
