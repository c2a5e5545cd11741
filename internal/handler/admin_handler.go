package handler

import (
	"errors"
	"net/http"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Admin — /v1/admin
// ============================================================

func adminStatsHandler(svc *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/stats")
		defer span.End()

		stats, err := svc.Stats(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func adminUsersHandler(svc *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/users")
		defer span.End()

		users, err := svc.ListUsers(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func adminDepositsHandler(svc *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/deposits")
		defer span.End()

		views, err := svc.ListDeposits(ctx, r.URL.Query().Get("status"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func adminWithdrawalsHandler(svc *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/withdrawals")
		defer span.End()

		views, err := svc.ListWithdrawals(ctx, r.URL.Query().Get("status"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func adminInvestmentsHandler(svc *service.AdminService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/admin/investments")
		defer span.End()

		views, err := svc.ListInvestments(ctx, r.URL.Query().Get("status"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, views)
	}
}

func approveDepositHandler(svc *service.DepositService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/deposits/{id}/approve")
		defer span.End()
		id := idParam(r)
		span.SetAttributes(attribute.String("deposit.id", id))

		d, err := svc.Approve(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		logger.Info("admin: deposit approved",
			zap.String("admin_id", UserIDFromContext(ctx)),
			zap.String("deposit_id", id),
		)
		writeJSON(w, http.StatusOK, d)
	}
}

func rejectDepositHandler(svc *service.DepositService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/deposits/{id}/reject")
		defer span.End()

		d, err := svc.Reject(ctx, idParam(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, d)
	}
}

func approveWithdrawalHandler(svc *service.WithdrawalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/withdrawals/{id}/approve")
		defer span.End()
		id := idParam(r)
		span.SetAttributes(attribute.String("withdrawal.id", id))

		wd, err := svc.Approve(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		logger.Info("admin: withdrawal approved",
			zap.String("admin_id", UserIDFromContext(ctx)),
			zap.String("withdrawal_id", id),
		)
		writeJSON(w, http.StatusOK, wd)
	}
}

func rejectWithdrawalHandler(svc *service.WithdrawalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/withdrawals/{id}/reject")
		defer span.End()

		wd, err := svc.Reject(ctx, idParam(r))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, wd)
	}
}

func completeInvestmentHandler(svc *service.InvestmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/admin/investments/{id}/complete")
		defer span.End()
		id := idParam(r)
		span.SetAttributes(attribute.String("investment.id", id))

		inv, err := svc.Complete(ctx, id)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		logger.Info("admin: investment completed",
			zap.String("admin_id", UserIDFromContext(ctx)),
			zap.String("investment_id", id),
		)
		writeJSON(w, http.StatusOK, inv)
	}
}

// ============================================================
// Jobs — POST /v1/jobs/daily-roi
// ============================================================

func dailyROIHandler(job *service.AccrualJob, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/jobs/daily-roi")
		defer span.End()

		summary, err := job.Run(ctx)
		if err != nil {
			var conflict *domain.ErrConflict
			if errors.As(err, &conflict) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			logger.Error("daily roi run failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}
