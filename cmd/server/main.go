package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crewlink/internal/auth"
	"crewlink/internal/booking"
	"crewlink/internal/channel"
	"crewlink/internal/config"
	"crewlink/internal/database"
	"crewlink/internal/domain"
	"crewlink/internal/logging"
	"crewlink/internal/metrics"
	"crewlink/internal/presence"
	"crewlink/internal/repository"
	"crewlink/internal/service"
	"crewlink/internal/worker"
	"crewlink/internal/ws"

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

	db, err := initDatabase(cfg, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := initRedis(cfg, &logger)
	if redisClient != nil {
		defer repository.Close(redisClient)
	}
	cache := initPresenceCache(redisClient, &logger)

	registry := presence.NewRegistry(&logger)
	router := channel.NewRouter(db, &logger)
	coordinator := booking.NewCoordinator(db, router, booking.StandardFeePolicy{LateCancelFee: 10}, &logger)
	messages := service.NewMessageService(db, router, &logger)

	dispatchWorker := worker.NewDispatchWorker(worker.NewLogDispatcher(&logger), redisClient, worker.RetryPolicy{}, &logger)
	notifications := service.NewNotificationService(db, registry, dispatchWorker, &logger)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, db)
	server := ws.NewServer(cfg.Server, cfg.Limits, verifier, registry, router, coordinator, messages, notifications, cache, &logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go dispatchWorker.Run(ctx)
	go server.ReapLoop(ctx)

	startMetrics(ctx, cfg, &logger)

	return startServer(ctx, server, db, cfg, &logger)
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
	logger := baseLogger.With().Str("component", "server-main").Logger()

	return cfg, logger, closer, nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}
	return db, nil
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

// initPresenceCache prefers redis so presence survives restarts and is shared
// across instances, with an in-memory fallback when redis is down.
func initPresenceCache(redisClient *redis.Client, logger *zerolog.Logger) domain.PresenceCache {
	memory := repository.NewMemoryPresenceCache()
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverPresenceCache(repository.NewRedisPresenceCache(redisClient), memory, logger)
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

func startServer(ctx context.Context, server *ws.Server, db *database.DB, cfg *config.Config, logger *zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", server)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Healthy(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	logger.Info().Int("port", cfg.Server.Port).Msg("realtime server started")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}

	logger.Info().Msg("realtime server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
