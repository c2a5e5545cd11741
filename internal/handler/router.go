// Package handler exposes the ledger over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/infra/observability"
	"github.com/boddenberg/mining-ledger/internal/port"
	"github.com/boddenberg/mining-ledger/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps bundles everything the router serves.
type Deps struct {
	Profiles    *service.ProfileService
	Catalog     *service.CatalogService
	Ledger      *service.Ledger
	Deposits    *service.DepositService
	Withdrawals *service.WithdrawalService
	Investments *service.InvestmentService
	Admin       *service.AdminService
	Accrual     *service.AccrualJob

	Store          Pinger
	Roles          port.RoleStore
	Idempotency    port.IdempotencyStore
	IdempotencyTTL time.Duration

	JWTSecret   []byte
	CronKeyHash []byte
	CORSOrigins []string
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(deps Deps, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(deps.CORSOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader, CronKeyHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(requestMetrics(metrics))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(deps.Store, logger))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		// Scheduler entry point, authenticated by X-Cron-Key.
		r.With(CronKeyMiddleware(deps.CronKeyHash, logger)).
			Post("/jobs/daily-roi", dailyROIHandler(deps.Accrual, logger))

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(deps.JWTSecret, logger))

			r.Post("/profile", registerProfileHandler(deps.Profiles, logger))
			r.Get("/profile", getProfileHandler(deps.Profiles, logger))
			r.Put("/profile", updateProfileHandler(deps.Profiles, logger))

			r.Get("/products", listProductsHandler(deps.Catalog, logger))
			r.Get("/ledger", listEntriesHandler(deps.Ledger, logger))

			r.Post("/deposits", submitDepositHandler(deps.Deposits, logger))
			r.Get("/deposits", listDepositsHandler(deps.Deposits, logger))

			r.Post("/withdrawals", submitWithdrawalHandler(deps.Withdrawals, logger))
			r.Get("/withdrawals", listWithdrawalsHandler(deps.Withdrawals, logger))

			r.With(IdempotencyMiddleware(deps.Idempotency, deps.IdempotencyTTL, logger)).
				Post("/investments", investHandler(deps.Investments, logger))
			r.Get("/investments", listInvestmentsHandler(deps.Investments, logger))

			r.Route("/admin", func(r chi.Router) {
				r.Use(AdminMiddleware(deps.Roles, logger))

				r.Get("/stats", adminStatsHandler(deps.Admin, logger))
				r.Get("/users", adminUsersHandler(deps.Admin, logger))

				r.Get("/deposits", adminDepositsHandler(deps.Admin, logger))
				r.Post("/deposits/{id}/approve", approveDepositHandler(deps.Deposits, logger))
				r.Post("/deposits/{id}/reject", rejectDepositHandler(deps.Deposits, logger))

				r.Get("/withdrawals", adminWithdrawalsHandler(deps.Admin, logger))
				r.Post("/withdrawals/{id}/approve", approveWithdrawalHandler(deps.Withdrawals, logger))
				r.Post("/withdrawals/{id}/reject", rejectWithdrawalHandler(deps.Withdrawals, logger))

				r.Get("/investments", adminInvestmentsHandler(deps.Admin, logger))
				r.Post("/investments/{id}/complete", completeInvestmentHandler(deps.Investments, logger))
			})
		})
	})

	return r
}

func corsOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// requestMetrics observes request latency per matched route.
func requestMetrics(metrics *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				metrics.RecordRequestDuration(r.Method+" "+rctx.RoutePattern(), time.Since(start))
			}
		})
	}
}

// ============================================================
// Health
// ============================================================

func healthzHandler(store Pinger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "ledger-api", Status: "healthy", LastChecked: now},
		}

		if store != nil {
			start := time.Now()
			err := store.Ping(ctx)
			status := "healthy"
			if err != nil {
				logger.Warn("health: store ping failed", zap.Error(err))
				status = "degraded"
			}
			services = append(services, domain.ServiceHealth{
				Name: "store", Status: status, LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overallStatus = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
