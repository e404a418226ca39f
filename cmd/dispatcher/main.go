package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"postpilot/internal/config"
	"postpilot/internal/database"
	"postpilot/internal/dispatch"
	"postpilot/internal/domain"
	"postpilot/internal/events"
	"postpilot/internal/logging"
	"postpilot/internal/metrics"
	"postpilot/internal/repository"
	"postpilot/internal/scheduler"
	"postpilot/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("create database directory")
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	leases := initLeases(redisClient, &logger)

	startMetrics(ctx, cfg, &logger)

	eventBus := events.NewEventBus()
	service.NewRecurrenceExpander(db, &logger).Register(eventBus)

	client := dispatch.NewClient(cfg.Dispatch.DeliveryTimeout)
	dispatcher := dispatch.NewDispatcher(
		db, db, db, client, eventBus,
		cfg.Dispatch.BatchSize,
		cfg.Dispatch.WorkerCount,
		cfg.Dispatch.RetryCeiling,
		&logger,
	)

	tick := func(tickCtx context.Context) {
		if _, err := dispatcher.RunCycle(tickCtx); err != nil {
			logger.Error().Err(err).Msg("dispatch cycle error")
		}
	}

	loop, err := scheduler.New(cfg.Dispatch.Interval, cfg.Dispatch.LeaseTTL, leases, tick, &logger)
	if err != nil {
		return err
	}

	loop.Start()
	logger.Info().
		Dur("interval", cfg.Dispatch.Interval).
		Int("batch_size", cfg.Dispatch.BatchSize).
		Int("workers", cfg.Dispatch.WorkerCount).
		Msg("dispatcher started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	loop.Stop()
	logger.Info().Msg("dispatcher stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "dispatcher-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(context.Background(), redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

// initLeases picks the dispatch lease backend. Without redis the in-process
// lease still prevents overlap inside one instance.
func initLeases(redisClient *redis.Client, logger *zerolog.Logger) domain.LeaseRepository {
	if redisClient != nil {
		return repository.NewRedisLeaseRepository(redisClient)
	}
	logger.Warn().Msg("using in-memory dispatch lease; run a single instance")
	return repository.NewMemoryLeaseRepository()
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
