package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/boddenberg/mining-ledger/internal/port"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const userIDKey contextKey = "userID"

// CronKeyHeader carries the scheduler secret for job routes.
const CronKeyHeader = "X-Cron-Key"

// IdempotencyKeyHeader lets clients retry a submission safely.
const IdempotencyKeyHeader = "Idempotency-Key"

// UserClaims are the claims of a Supabase-issued access token.
type UserClaims struct {
	Role  string `json:"role,omitempty"`
	Phone string `json:"phone,omitempty"`
	jwt.RegisteredClaims
}

// ParseUserToken validates an HS256 access token and returns its subject.
func ParseUserToken(secret []byte, tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject")
	}
	return claims, nil
}

// JWTAuthMiddleware validates Bearer tokens and injects the user ID into context.
func JWTAuthMiddleware(secret []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims, err := ParseUserToken(secret, parts[1])
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

// AdminMiddleware lets through only users holding the admin role.
// Must run after JWTAuthMiddleware.
func AdminMiddleware(roles port.RoleStore, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := UserIDFromContext(r.Context())
			ok, err := roles.IsAdmin(r.Context(), userID)
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			if !ok {
				logger.Warn("admin: access denied",
					zap.String("user_id", userID),
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusForbidden, "admin role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CronKeyMiddleware checks the X-Cron-Key header against a bcrypt hash.
// An empty hash disables the protected routes entirely.
func CronKeyMiddleware(hash []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(CronKeyHeader)
			if len(hash) == 0 || key == "" {
				writeError(w, http.StatusUnauthorized, "missing cron key")
				return
			}
			if err := bcrypt.CompareHashAndPassword(hash, []byte(key)); err != nil {
				logger.Warn("cron: rejected key", zap.String("remote_addr", r.RemoteAddr))
				writeError(w, http.StatusUnauthorized, "invalid cron key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// IdempotencyMiddleware replays the stored response for a repeated
// Idempotency-Key from the same user. A key still in flight gets 409.
// Responses with a 5xx status are not stored so the client can retry.
func IdempotencyMiddleware(store port.IdempotencyStore, ttl time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
			if raw == "" || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > 128 {
				writeError(w, http.StatusBadRequest, "idempotency key too long")
				return
			}
			key := UserIDFromContext(r.Context()) + ":" + r.URL.Path + ":" + raw

			cached, started, err := store.Begin(r.Context(), key, ttl)
			if err != nil {
				logger.Error("idempotency: begin failed", zap.Error(err))
				writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable")
				return
			}
			if cached != nil {
				var resp storedResponse
				if err := json.Unmarshal(cached, &resp); err == nil {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("Idempotent-Replayed", "true")
					w.WriteHeader(resp.Status)
					w.Write(resp.Body)
					return
				}
			}
			if !started {
				writeError(w, http.StatusConflict, "a request with this idempotency key is in progress")
				return
			}

			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			ctx := context.WithoutCancel(r.Context())
			status := ww.Status()
			if status >= 500 || status == 0 {
				if err := store.Abort(ctx, key); err != nil {
					logger.Warn("idempotency: abort failed", zap.Error(err))
				}
				return
			}
			payload, err := json.Marshal(storedResponse{Status: status, Body: json.RawMessage(bytes.TrimSpace(buf.Bytes()))})
			if err != nil {
				_ = store.Abort(ctx, key)
				return
			}
			if err := store.Complete(ctx, key, payload, ttl); err != nil {
				logger.Warn("idempotency: complete failed", zap.Error(err))
			}
		})
	}
}
