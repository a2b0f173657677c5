package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/syncreviews/platform/pkg/database"
	"github.com/syncreviews/platform/pkg/health"
	pkgkafka "github.com/syncreviews/platform/pkg/kafka"
	"github.com/syncreviews/platform/pkg/middleware"
	"github.com/syncreviews/platform/pkg/tracing"
	"github.com/syncreviews/platform/services/reviews/internal/auth"
	"github.com/syncreviews/platform/services/reviews/internal/cache"
	"github.com/syncreviews/platform/services/reviews/internal/config"
	"github.com/syncreviews/platform/services/reviews/internal/event"
	handler "github.com/syncreviews/platform/services/reviews/internal/handler/http"
	"github.com/syncreviews/platform/services/reviews/internal/repository"
	"github.com/syncreviews/platform/services/reviews/internal/repository/memory"
	"github.com/syncreviews/platform/services/reviews/internal/repository/postgres"
	"github.com/syncreviews/platform/services/reviews/internal/service"
	"github.com/syncreviews/platform/services/reviews/migrations"
)

const serviceName = "reviews"

// App wires together all dependencies and runs the reviews service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	invalidations  *pkgkafka.Consumer
	limiter        *handler.RateLimiter
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	// Review store.
	repo, err := a.initReviewStore(ctx, healthHandler)
	if err != nil {
		return nil, err
	}

	// Public response cache.
	store, err := a.initCacheStore(ctx, healthHandler)
	if err != nil {
		return nil, err
	}
	cacheManager := cache.NewManager(store, nil, logger)

	// Domain events and cross-replica invalidation.
	var publisher service.EventPublisher = event.NopPublisher{}
	if cfg.KafkaEnabled() {
		producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
		a.producer = producer
		if err := pingKafkaWithRetry(ctx, producer, logger); err != nil {
			logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}

		sent := pkgkafka.NewMemoryIdempotencyStore(24 * time.Hour)
		publisher = event.NewProducer(producer, sent, logger)
		a.invalidations = event.NewInvalidationConsumer(cfg.KafkaBrokers, invalidationGroup(), cacheManager, sent, logger)

		healthHandler.RegisterOptional("kafka", producer.Ping)
	} else {
		logger.Info("kafka disabled, review events are not published")
	}

	// Build the dependency graph.
	publicService := service.NewPublicService(repo, cacheManager, cfg.PublicCacheTTL, logger)
	reviewService := service.NewReviewService(repo, publisher, cacheManager, logger)
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, 15*time.Minute)
	a.limiter = handler.NewRateLimiter(cfg.SubmitRateRPS, cfg.SubmitRateBurst, logger)

	operatorCORS := middleware.DefaultCORSConfig()
	operatorCORS.AllowedOrigins = cfg.CORSAllowedOrigins
	operatorCORS.Environment = cfg.Environment

	// HTTP router.
	router := handler.NewRouter(handler.RouterConfig{
		PublicService:     publicService,
		ReviewService:     reviewService,
		TokenValidator:    jwtManager.TokenValidator(),
		Health:            healthHandler,
		Logger:            logger,
		OperatorCORS:      operatorCORS,
		PublicBaseURL:     cfg.PublicBaseURL,
		PublicCacheTTL:    cfg.PublicCacheTTL,
		ExposeStoreErrors: cfg.PublicExposeStoreErrors,
		SubmitLimiter:     a.limiter,
		PprofAllowedCIDRs: cfg.PprofAllowedCIDRs,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ok = true
	return a, nil
}

func (a *App) initReviewStore(ctx context.Context, h *health.Handler) (repository.ReviewRepository, error) {
	if a.cfg.ReviewStore == config.BackendMemory {
		a.logger.Warn("using in-memory review store, data is lost on restart")
		return memory.NewReviewRepository(), nil
	}

	pool, err := database.NewPostgresPool(ctx, a.cfg.PostgresConfig(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", a.cfg.PostgresHost),
		slog.Int("port", a.cfg.PostgresPort),
		slog.String("database", a.cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	// Configure slow query logging.
	if a.cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(a.cfg.SlowQueryThresholdMs)*time.Millisecond, a.logger)
	}

	h.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	return postgres.NewReviewRepository(pool), nil
}

func (a *App) initCacheStore(ctx context.Context, h *health.Handler) (cache.Store, error) {
	if a.cfg.CacheBackend == config.BackendMemory {
		return cache.NewMemoryStore(), nil
	}

	rdb, err := database.NewRedisClient(ctx, a.cfg.RedisConfig())
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.rdb = rdb
	a.logger.Info("connected to Redis",
		slog.String("addr", a.cfg.RedisConfig().Addr()),
		slog.Int("db", a.cfg.RedisDB),
	)

	store := cache.NewRedisStore(rdb, "syncreviews")
	h.Register("redis", store.Ping)
	return store, nil
}

// Run starts the HTTP server and the invalidation consumer, then blocks until
// the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	// Start HTTP server.
	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Start the cache invalidation consumer. Its failure degrades
	// invalidation to TTL expiry but does not stop the service.
	if consumer := a.invalidations; consumer != nil {
		go func() {
			if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("cache invalidation consumer stopped", slog.String("error", err.Error()))
			}
		}()
	}

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
// 3. Kafka consumer and producer
// 4. Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	errs = append(errs, a.closeResources()...)

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases everything NewApp may have opened. It is safe on a
// partially initialized App and on repeated calls.
func (a *App) closeResources() []error {
	var errs []error

	if a.limiter != nil {
		a.limiter.Stop()
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.tracerShutdown = nil
	}

	if a.invalidations != nil {
		if err := a.invalidations.Close(); err != nil {
			a.logger.Error("invalidation consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.invalidations = nil
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.producer = nil
	}

	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.rdb = nil
	}

	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}

	return errs
}

// invalidationGroup returns a consumer group unique to this replica.
func invalidationGroup() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = fmt.Sprintf("pid-%d", os.Getpid())
	}
	return "reviews-cache-" + host
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s/4s with ±25% jitter).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		err := producer.Ping(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < 2 {
			base := time.Duration(1<<uint(attempt)) * time.Second
			jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
			wait := base + jitter
			logger.Warn("kafka producer ping failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", 3),
				slog.Duration("backoff", wait),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
			case <-time.After(wait):
			}
		}
	}
	return fmt.Errorf("kafka producer ping failed after 3 attempts: %w", lastErr)
}
