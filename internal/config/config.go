// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverSupabase = "supabase"
	DriverPostgres = "postgres"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port        int
	LogLevel    string
	CORSOrigins []string

	// Persistence
	StoreDriver        string
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	DatabaseURL        string
	MigrationsPath     string

	// Redis (empty address selects in-process locks)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Auth
	JWTSecret   string
	CronKeyHash string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL       time.Duration
	IdempotencyTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Ledger rules
	AccrualPeriod       time.Duration
	AccrualInterval     time.Duration
	AccrualLockTTL      time.Duration
	ReferralBonus       int64
	MinDeposit          int64
	MinWithdrawal       int64
	DefaultDurationDays int
	MinDailyShare       int64
}

// LoadDotEnv reads a .env file into the process environment.
// Existing variables win over file values.
func LoadDotEnv(path string) error {
	return godotenv.Load(path)
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return &Config{
		Port:        v.GetInt("PORT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		CORSOrigins: splitList(v.GetString("CORS_ALLOWED_ORIGINS")),

		StoreDriver:        strings.ToLower(v.GetString("STORE_DRIVER")),
		SupabaseURL:        v.GetString("SUPABASE_URL"),
		SupabaseAnonKey:    v.GetString("SUPABASE_ANON_KEY"),
		SupabaseServiceKey: v.GetString("SUPABASE_SERVICE_ROLE_KEY"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		MigrationsPath:     v.GetString("MIGRATIONS_PATH"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		JWTSecret:   v.GetString("JWT_SECRET"),
		CronKeyHash: v.GetString("CRON_KEY_HASH"),

		HTTPTimeout: v.GetDuration("HTTP_TIMEOUT"),

		MaxRetries:     v.GetInt("MAX_RETRIES"),
		InitialBackoff: v.GetDuration("INITIAL_BACKOFF"),
		MaxConcurrency: v.GetInt("MAX_CONCURRENCY"),

		CacheTTL:       v.GetDuration("CACHE_TTL"),
		IdempotencyTTL: v.GetDuration("IDEMPOTENCY_TTL"),

		OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),

		AccrualPeriod:       v.GetDuration("ACCRUAL_PERIOD"),
		AccrualInterval:     v.GetDuration("ACCRUAL_INTERVAL"),
		AccrualLockTTL:      v.GetDuration("ACCRUAL_LOCK_TTL"),
		ReferralBonus:       v.GetInt64("REFERRAL_BONUS"),
		MinDeposit:          v.GetInt64("MIN_DEPOSIT"),
		MinWithdrawal:       v.GetInt64("MIN_WITHDRAWAL"),
		DefaultDurationDays: v.GetInt("DEFAULT_DURATION_DAYS"),
		MinDailyShare:       v.GetInt64("ACCRUAL_MIN_DAILY_SHARE"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")

	v.SetDefault("STORE_DRIVER", DriverSupabase)
	v.SetDefault("MIGRATIONS_PATH", "file://migrations")

	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("HTTP_TIMEOUT", 10*time.Second)
	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("INITIAL_BACKOFF", 100*time.Millisecond)
	v.SetDefault("MAX_CONCURRENCY", 50)

	v.SetDefault("CACHE_TTL", 5*time.Minute)
	v.SetDefault("IDEMPOTENCY_TTL", 24*time.Hour)

	v.SetDefault("ACCRUAL_PERIOD", 24*time.Hour)
	v.SetDefault("ACCRUAL_INTERVAL", time.Duration(0))
	v.SetDefault("ACCRUAL_LOCK_TTL", 15*time.Minute)
	v.SetDefault("REFERRAL_BONUS", 1000)
	v.SetDefault("MIN_DEPOSIT", 100)
	v.SetDefault("MIN_WITHDRAWAL", 100)
	v.SetDefault("DEFAULT_DURATION_DAYS", 30)
	v.SetDefault("ACCRUAL_MIN_DAILY_SHARE", 1)
}

// Validate reports missing settings for the selected driver.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverSupabase:
		if c.SupabaseURL == "" {
			errs = append(errs, errors.New("SUPABASE_URL is required for the supabase driver"))
		}
		if c.SupabaseServiceKey == "" {
			errs = append(errs, errors.New("SUPABASE_SERVICE_ROLE_KEY is required for the supabase driver"))
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.AccrualPeriod < 0 {
		errs = append(errs, errors.New("ACCRUAL_PERIOD must not be negative"))
	}
	if c.DefaultDurationDays <= 0 {
		errs = append(errs, errors.New("DEFAULT_DURATION_DAYS must be positive"))
	}
	if c.MinDailyShare < 0 {
		errs = append(errs, errors.New("ACCRUAL_MIN_DAILY_SHARE must not be negative"))
	}
	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
