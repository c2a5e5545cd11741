package handler

import (
	"net/http"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Deposits — /v1/deposits
// ============================================================

func submitDepositHandler(svc *service.DepositService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/deposits")
		defer span.End()

		var req domain.DepositRequest
		if !decodeBody(w, r, &req) {
			return
		}

		d, err := svc.Submit(ctx, UserIDFromContext(ctx), req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, d)
	}
}

func listDepositsHandler(svc *service.DepositService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/deposits")
		defer span.End()

		deposits, err := svc.ListMine(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, deposits)
	}
}

// ============================================================
// Withdrawals — /v1/withdrawals
// ============================================================

func submitWithdrawalHandler(svc *service.WithdrawalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/withdrawals")
		defer span.End()

		var req domain.WithdrawalRequest
		if !decodeBody(w, r, &req) {
			return
		}

		wd, err := svc.Submit(ctx, UserIDFromContext(ctx), req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, wd)
	}
}

func listWithdrawalsHandler(svc *service.WithdrawalService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/withdrawals")
		defer span.End()

		withdrawals, err := svc.ListMine(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, withdrawals)
	}
}

// ============================================================
// Investments — /v1/investments
// ============================================================

func investHandler(svc *service.InvestmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/investments")
		defer span.End()

		var req domain.InvestRequest
		if !decodeBody(w, r, &req) {
			return
		}
		span.SetAttributes(attribute.String("product.id", req.ProductID))

		inv, err := svc.Invest(ctx, UserIDFromContext(ctx), req.ProductID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, inv)
	}
}

func listInvestmentsHandler(svc *service.InvestmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/investments")
		defer span.End()

		views, err := svc.ListMine(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, views)
	}
}

// idParam reads the {id} route parameter.
func idParam(r *http.Request) string {
	return chi.URLParam(r, "id")
}
