package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livequeue/queue-service/internal/catalog"
	"livequeue/queue-service/internal/config"
	"livequeue/queue-service/internal/events"
	"livequeue/queue-service/internal/events/rabbitmq"
	"livequeue/queue-service/internal/httpapi"
	"livequeue/queue-service/internal/hub"
	"livequeue/queue-service/internal/logging"
	"livequeue/queue-service/internal/queue"
	"livequeue/queue-service/internal/store"
	"livequeue/queue-service/internal/store/memory"
	"livequeue/queue-service/internal/store/postgres"
	"livequeue/queue-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type backend interface {
	store.QueueStore
	store.Seeder
}

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	shutdownTelemetry := telemetry.Setup("queue-service", logger)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	st, health, closeStore := openStore(cfg, logger)
	defer closeStore()

	if cfg.SeedLocations {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := st.SeedLocations(ctx, catalog.Default(cfg.ImageBaseURL))
		cancel()
		if err != nil {
			logger.WithError(err).Fatal("seed locations")
		}
	}

	h := hub.New(logger)
	publishers := events.Multi{h}
	if cfg.AMQPURL != "" {
		amqpPublisher, err := rabbitmq.Dial(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.WithError(err).Fatal("rabbitmq connect")
		}
		defer amqpPublisher.Close()
		publishers = append(publishers, amqpPublisher)
		logger.WithField("exchange", cfg.AMQPExchange).Info("relaying events to rabbitmq")
	}

	controller := queue.NewController(st, queue.Options{
		MaxRetries: cfg.MaxConflictRetries,
		Publisher:  publishers,
		Logger:     logger,
	})

	var admin *httpapi.AdminAuth
	if cfg.AdminJWTSecret != "" {
		admin = httpapi.NewAdminAuth(cfg.AdminJWTSecret, cfg.AdminTokenTTL)
	} else {
		logger.Warn("ADMIN_JWT_SECRET is empty, admin routes are open")
	}

	handler := httpapi.NewHandler(controller, httpapi.Options{
		IssueMode: cfg.IssueMode,
		Admin:     admin,
		StaticDir: cfg.StaticDir,
		Realtime:  httpapi.NewRealtimeHandler(h, logger),
		Health:    health,
		Logger:    logger,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute: cfg.RateLimitPerMinute,
		IPBurst:     cfg.RateLimitBurst,
	})

	stack := httpapi.CORSMiddleware(cfg.AllowedOrigins, limiter.Middleware(handler.Routes()))
	stack = httpapi.RequestIDMiddleware(httpapi.LoggingMiddleware(logger, stack))
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(stack, "queue-service"),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		// SockJS streaming sessions outlive any fixed write timeout.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"addr":       server.Addr,
			"store":      cfg.StoreDriver,
			"issue_mode": cfg.IssueMode,
		}).Info("queue-service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}
}

// openStore picks the backend named by the config. The returned health func
// is nil for the memory store.
func openStore(cfg config.Config, logger logrus.FieldLogger) (backend, func(context.Context) error, func()) {
	if cfg.StoreDriver != config.DriverPostgres {
		logger.Warn("using in-memory store, queue state is lost on restart")
		return memory.NewStore(), nil, func() {}
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal("DB_DSN is required for the postgres store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("db connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		logger.WithError(err).Fatal("db ping")
	}
	if cfg.RunMigrations {
		applied, err := postgres.Migrate(ctx, pool)
		if err != nil {
			pool.Close()
			logger.WithError(err).Fatal("db migrate")
		}
		if len(applied) > 0 {
			logger.WithField("versions", applied).Info("applied migrations")
		}
	}
	pg := postgres.NewStore(pool)
	return pg, pg.Ping, pool.Close
}
