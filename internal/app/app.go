// Package app wires configuration into stores, locks and services.
// Shared by the API server and the one-shot accrual command.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/boddenberg/mining-ledger/internal/config"
	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/handler"
	"github.com/boddenberg/mining-ledger/internal/infra/cache"
	"github.com/boddenberg/mining-ledger/internal/infra/gormstore"
	"github.com/boddenberg/mining-ledger/internal/infra/lock"
	"github.com/boddenberg/mining-ledger/internal/infra/observability"
	"github.com/boddenberg/mining-ledger/internal/infra/resilience"
	"github.com/boddenberg/mining-ledger/internal/infra/supabase"
	"github.com/boddenberg/mining-ledger/internal/port"
	"github.com/boddenberg/mining-ledger/internal/service"

	"go.uber.org/zap"
)

// App holds the wired services and the resources that need closing.
type App struct {
	Store       port.Store
	Locker      port.Locker
	Idempotency port.IdempotencyStore

	Ledger      *service.Ledger
	Profiles    *service.ProfileService
	Catalog     *service.CatalogService
	Deposits    *service.DepositService
	Withdrawals *service.WithdrawalService
	Investments *service.InvestmentService
	Admin       *service.AdminService
	Accrual     *service.AccrualJob

	closers []func() error
}

// New builds the application from cfg.
func New(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (*App, error) {
	a := &App{}

	store, err := a.openStore(cfg, metrics, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	if cfg.RedisAddr != "" {
		rdb, err := lock.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		a.Locker = lock.NewRedisLocker(rdb)
		a.Idempotency = lock.NewRedisIdempotency(rdb)
		logger.Info("using Redis for leases and idempotency", zap.String("addr", cfg.RedisAddr))
	} else {
		a.Locker = lock.NewLocalLocker()
		a.Idempotency = lock.NewLocalIdempotency()
		logger.Warn("REDIS_ADDR not set, leases are process-local")
	}

	products := cache.New[[]domain.Product](cfg.CacheTTL)
	a.closers = append(a.closers, func() error { products.Close(); return nil })

	a.Ledger = service.NewLedger(store, store, resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
	}, metrics, logger)
	a.Catalog = service.NewCatalogService(store, products, metrics)
	a.Profiles = service.NewProfileService(store, a.Ledger, cfg.ReferralBonus, logger)
	a.Deposits = service.NewDepositService(store, a.Ledger, cfg.MinDeposit, logger)
	a.Withdrawals = service.NewWithdrawalService(store, store, a.Ledger, cfg.MinWithdrawal, logger)
	a.Investments = service.NewInvestmentService(store, a.Catalog, a.Ledger, logger)
	a.Admin = service.NewAdminService(store, a.Catalog, logger)
	a.Accrual = service.NewAccrualJob(store, a.Ledger, a.Locker, service.AccrualConfig{
		Period:              cfg.AccrualPeriod,
		LockTTL:             cfg.AccrualLockTTL,
		DefaultDurationDays: cfg.DefaultDurationDays,
		MinDailyShare:       cfg.MinDailyShare,
		MaxConcurrency:      cfg.MaxConcurrency,
	}, metrics, logger)

	return a, nil
}

func (a *App) openStore(cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (port.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverSupabase:
		logger.Info("using Supabase as data backend", zap.String("supabase_url", cfg.SupabaseURL))
		return supabase.NewClient(
			&http.Client{Timeout: cfg.HTTPTimeout},
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			resilience.Config{
				MaxRetries:     cfg.MaxRetries,
				InitialBackoff: cfg.InitialBackoff,
				MaxConcurrency: cfg.MaxConcurrency,
			},
			metrics,
			logger,
		), nil

	case config.DriverPostgres:
		logger.Info("using Postgres via GORM as data backend")
		db, err := gormstore.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, sqlDB.Close)
		return gormstore.New(db, logger), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// RouterDeps returns the handler dependencies for this application.
func (a *App) RouterDeps(cfg *config.Config) handler.Deps {
	return handler.Deps{
		Profiles:       a.Profiles,
		Catalog:        a.Catalog,
		Ledger:         a.Ledger,
		Deposits:       a.Deposits,
		Withdrawals:    a.Withdrawals,
		Investments:    a.Investments,
		Admin:          a.Admin,
		Accrual:        a.Accrual,
		Store:          a.Store,
		Roles:          a.Store,
		Idempotency:    a.Idempotency,
		IdempotencyTTL: cfg.IdempotencyTTL,
		JWTSecret:      []byte(cfg.JWTSecret),
		CronKeyHash:    []byte(cfg.CronKeyHash),
		CORSOrigins:    cfg.CORSOrigins,
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
