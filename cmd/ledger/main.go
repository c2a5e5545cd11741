package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/mining-ledger/internal/app"
	"github.com/boddenberg/mining-ledger/internal/config"
	"github.com/boddenberg/mining-ledger/internal/handler"
	"github.com/boddenberg/mining-ledger/internal/infra/gormstore"
	"github.com/boddenberg/mining-ledger/internal/infra/observability"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("store_driver", cfg.StoreDriver),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("accrual_period", cfg.AccrualPeriod),
		zap.Duration("accrual_interval", cfg.AccrualInterval),
		zap.Bool("cron_key_configured", cfg.CronKeyHash != ""),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "mining-ledger")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Migrations (postgres driver only) ---
	if cfg.StoreDriver == config.DriverPostgres && cfg.MigrationsPath != "" {
		if err := gormstore.RunMigrations(cfg.MigrationsPath, cfg.DatabaseURL, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// --- Application ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, metrics, logger)
	if err != nil {
		logger.Fatal("failed to build application", zap.Error(err))
	}
	defer func() {
		if err := application.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	// --- In-process accrual ticker ---
	if cfg.AccrualInterval > 0 {
		logger.Info("in-process accrual enabled", zap.Duration("interval", cfg.AccrualInterval))
		go application.Accrual.RunEvery(ctx, cfg.AccrualInterval)
	}

	// --- Router ---
	router := handler.NewRouter(application.RouterDeps(cfg), metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // the job route runs a full accrual pass
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("server stopped")
}
