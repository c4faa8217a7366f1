package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/redis/go-redis/v9"

	"github.com/family-history/internal/auth"
	"github.com/family-history/internal/config"
	"github.com/family-history/internal/handler"
	"github.com/family-history/internal/kafka"
	"github.com/family-history/internal/metrics"
	"github.com/family-history/internal/postgres"
	"github.com/family-history/internal/redis"
	"github.com/family-history/internal/service"
	"github.com/family-history/internal/websocket"
	"github.com/family-history/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, loadErr := config.Load(*configPath)
	if loadErr != nil {
		cfg = config.DefaultConfig()
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if loadErr != nil {
		logger.Warn("failed to load config file, using defaults", "error", loadErr)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	postgresRepo, err := retry(ctx, &cfg.Startup, logger, "postgres", func() (*postgres.Repository, error) {
		return postgres.NewRepository(ctx, &cfg.Postgres, logger)
	})
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer postgresRepo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := postgresRepo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize Redis
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	redisClient, err := retry(ctx, &cfg.Startup, logger, "redis", func() (*goredis.Client, error) {
		return redis.NewClient(ctx, &cfg.Redis)
	})
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	latestCache := redis.NewLatestCache(redisClient, cfg.Cache.TTL, logger)
	sessions := redis.NewSessionStore(redisClient)

	authenticator, err := auth.NewAuthenticator(&cfg.Auth, sessions, logger)
	if err != nil {
		logger.Error("failed to configure authentication", "error", err)
		os.Exit(1)
	}

	appMetrics := metrics.New()

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize services
	familyService := service.NewFamilyService(
		postgresRepo,
		latestCache,
		wsHub,
		appMetrics,
		&cfg.History,
		logger,
	)

	// Initialize cache warmer
	cacheWarmer := worker.NewCacheWarmer(familyService, &cfg.Cache, logger)

	// Rebuild the latest cache on startup (recovery)
	if cfg.Cache.WarmOnStartup {
		logger.Info("warming latest cache from database")
		cacheWarmer.RunOnce(ctx)
	}

	if cfg.Cache.WarmerEnabled {
		if err := cacheWarmer.Start(ctx); err != nil {
			logger.Error("failed to start cache warmer", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for bulk snapshot imports
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, familyService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	// Initialize HTTP handler
	httpHandler := handler.NewHandler(familyService, authenticator, wsHub, appMetrics, &cfg.Server, logger)
	httpHandler.AddReadinessCheck("postgres", postgresRepo.Ping)
	httpHandler.AddReadinessCheck("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop cache warmer
	if err := cacheWarmer.Stop(); err != nil {
		logger.Error("failed to stop cache warmer", "error", err)
	}

	// Stop WebSocket hub
	wsHub.Stop()

	logger.Info("server stopped")
}

// retry runs connect with exponential backoff until it succeeds, the startup
// budget is spent or ctx is cancelled
func retry[T any](ctx context.Context, cfg *config.StartupConfig, logger *slog.Logger, name string, connect func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxElapsedTime = cfg.MaxElapsedTime

	return backoff.RetryNotifyWithData(connect, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		logger.Warn("dependency not ready, retrying", "dependency", name, "error", err, "retry_in", wait)
	})
}
