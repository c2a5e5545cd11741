package handler

import (
	"net/http"
	"strconv"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Profile — /v1/profile
// ============================================================

func registerProfileHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/profile")
		defer span.End()

		var req domain.RegisterRequest
		if !decodeBody(w, r, &req) {
			return
		}

		p, err := svc.Register(ctx, UserIDFromContext(ctx), req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	}
}

func getProfileHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/profile")
		defer span.End()

		p, err := svc.GetProfile(ctx, UserIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func updateProfileHandler(svc *service.ProfileService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/profile")
		defer span.End()

		var req domain.ProfileDetails
		if !decodeBody(w, r, &req) {
			return
		}

		p, err := svc.UpdateDetails(ctx, UserIDFromContext(ctx), req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// ============================================================
// Ledger journal — GET /v1/ledger
// ============================================================

func listEntriesHandler(ledger *service.Ledger, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/ledger")
		defer span.End()

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := ledger.Entries(ctx, UserIDFromContext(ctx), limit)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// ============================================================
// Products — GET /v1/products
// ============================================================

func listProductsHandler(svc *service.CatalogService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/products")
		defer span.End()

		products, err := svc.ListActiveProducts(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, products)
	}
}
