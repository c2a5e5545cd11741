// Command accrual runs one daily ROI accrual pass and exits.
// Intended for an external scheduler. Exit status is 0 on success,
// 2 when another run holds the lease and 1 on any other failure.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/mining-ledger/internal/app"
	"github.com/boddenberg/mining-ledger/internal/config"
	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/infra/observability"

	"go.uber.org/zap"
)

func main() {
	timeout := flag.Duration("timeout", 10*time.Minute, "abort the run after this long")
	flag.Parse()

	_ = config.LoadDotEnv(".env")
	cfg := config.Load()

	logger := observability.NewLogger(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "mining-ledger-accrual")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}

	code := run(cfg, *timeout, logger, shutdown)
	_ = logger.Sync()
	os.Exit(code)
}

func run(cfg *config.Config, timeout time.Duration, logger *zap.Logger, shutdown func(context.Context) error) int {
	defer shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	application, err := app.New(ctx, cfg, observability.NewMetrics(), logger)
	if err != nil {
		logger.Error("failed to build application", zap.Error(err))
		return 1
	}
	defer application.Close()

	summary, err := application.Accrual.Run(ctx)
	if err != nil {
		var conflict *domain.ErrConflict
		if errors.As(err, &conflict) {
			logger.Warn("accrual already running elsewhere", zap.Error(err))
			return 2
		}
		logger.Error("accrual run failed", zap.Error(err))
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		logger.Error("failed to print summary", zap.Error(err))
		return 1
	}
	return 0
}
