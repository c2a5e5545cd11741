// Command migrate applies the SQL migrations in migrations/ to DATABASE_URL.
package main

import (
	"flag"

	"github.com/boddenberg/mining-ledger/internal/config"
	"github.com/boddenberg/mining-ledger/internal/infra/gormstore"
	"github.com/boddenberg/mining-ledger/internal/infra/observability"

	"go.uber.org/zap"
)

func main() {
	_ = config.LoadDotEnv(".env")
	cfg := config.Load()

	source := flag.String("source", cfg.MigrationsPath, "migration source URL")
	dsn := flag.String("database", cfg.DatabaseURL, "database URL")
	flag.Parse()

	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	if *dsn == "" {
		logger.Fatal("DATABASE_URL or -database is required")
	}
	if err := gormstore.RunMigrations(*source, *dsn, logger); err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
}
