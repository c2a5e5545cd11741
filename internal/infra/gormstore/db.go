// Package gormstore implements port.Store on a SQL database through GORM.
// Balance and status changes are single conditional UPDATE statements, so
// the same guarantees hold as with the Supabase RPC adapter.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/port"
)

var tracer = otel.Tracer("gormstore")

// Open connects to Postgres.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true, // Supabase pooler compatible
	}), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// RunMigrations applies pending SQL migrations from source (e.g. file://migrations).
func RunMigrations(source, databaseURL string, log *zap.Logger) error {
	log.Info("running database migrations", zap.String("source", source))

	mig, err := migrate.New(source, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := mig.Close()
		if srcErr != nil {
			log.Warn("migrate source close error", zap.Error(srcErr))
		}
		if dbErr != nil {
			log.Warn("migrate database close error", zap.Error(dbErr))
		}
	}()

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, _ := mig.Version()
	log.Info("database migrations completed", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

var _ port.Store = (*Store)(nil)

// Store implements port.Store.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New wraps an open connection.
func New(db *gorm.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &domain.ErrExternalService{Service: "database", Err: err}
	}
	return nil
}

// mapErr translates driver errors into domain errors.
func mapErr(err error, resource, id string) error {
	var (
		conflict     *domain.ErrConflict
		insufficient *domain.ErrInsufficientFunds
		notFound     *domain.ErrNotFound
		validation   *domain.ErrValidation
		duplicate    *domain.ErrDuplicate
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &conflict), errors.As(err, &insufficient), errors.As(err, &notFound),
		errors.As(err, &validation), errors.As(err, &duplicate):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return &domain.ErrNotFound{Resource: resource, ID: id}
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return &domain.ErrConflict{Message: fmt.Sprintf("%s already exists", resource)}
	case errors.Is(err, gorm.ErrCheckConstraintViolated):
		return &domain.ErrValidation{Field: resource, Message: err.Error()}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &domain.ErrExternalService{Service: "database/" + resource, Err: err}
}
