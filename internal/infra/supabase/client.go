// Package supabase implements port.Store over the Supabase PostgREST API.
// Reads are retried with backoff behind a circuit breaker; writes go through
// the breaker only, since a retried non-idempotent write could apply twice.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/infra/observability"
	"github.com/boddenberg/mining-ledger/internal/infra/resilience"
	"github.com/boddenberg/mining-ledger/internal/port"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("supabase")

var _ port.Store = (*Client)(nil)

// Client wraps HTTP calls to Supabase PostgREST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	apiKey         string
	serviceRoleKey string
	cb             *gobreaker.CircuitBreaker
	cfg            resilience.Config
	metrics        *observability.Metrics
	logger         *zap.Logger
}

// NewClient creates a Supabase client. metrics may be nil.
func NewClient(httpClient *http.Client, baseURL, apiKey, serviceRoleKey string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *Client {
	return &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		apiKey:         apiKey,
		serviceRoleKey: serviceRoleKey,
		cb:             cb,
		cfg:            cfg,
		metrics:        metrics,
		logger:         logger,
	}
}

// pgError is the PostgREST error body.
type pgError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// statusError is a non-2xx PostgREST response.
type statusError struct {
	Method string
	Path   string
	Status int
	Body   string
	PG     pgError
}

// Temporary marks server-side and throttling failures as retryable.
func (e *statusError) Temporary() bool {
	return e.Status >= 500 || e.Status == http.StatusTooManyRequests
}

func (e *statusError) Error() string {
	return fmt.Sprintf("supabase %s %s returned %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// read runs an idempotent call with retry inside the breaker.
func (c *Client) read(ctx context.Context, op string, fn func() error) error {
	err := resilience.Execute(c.cb, func() error {
		return resilience.RetryWithBackoff(ctx, c.cfg, fn)
	})
	return c.wrap(op, err)
}

// write runs a single-shot call inside the breaker.
func (c *Client) write(op string, fn func() error) error {
	return c.wrap(op, resilience.Execute(c.cb, fn))
}

// wrap maps transport failures to ErrExternalService and passes domain
// errors through untouched.
func (c *Client) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if mapped := mapPostgrestError(err); mapped != err {
		return mapped
	}
	var (
		open         *domain.ErrCircuitOpen
		notFound     *domain.ErrNotFound
		conflict     *domain.ErrConflict
		insufficient *domain.ErrInsufficientFunds
	)
	if errors.As(err, &open) || errors.As(err, &notFound) || errors.As(err, &conflict) || errors.As(err, &insufficient) {
		return err
	}
	if c.metrics != nil {
		c.metrics.IncrStoreError("supabase")
	}
	return &domain.ErrExternalService{Service: "supabase/" + op, Err: err}
}

// mapPostgrestError translates known Postgres error codes.
func mapPostgrestError(err error) error {
	var se *statusError
	if !errors.As(err, &se) {
		return err
	}
	switch {
	case se.PG.Code == "23505":
		return &domain.ErrConflict{Message: "already exists: " + se.PG.Details}
	case se.PG.Code == "P0001" && se.PG.Message == "insufficient_funds":
		available, _ := strconv.ParseInt(se.PG.Details, 10, 64)
		return &domain.ErrInsufficientFunds{Available: available}
	case se.PG.Code == "P0003":
		return &domain.ErrDuplicate{Key: se.PG.Details}
	case se.PG.Code == "P0002":
		return &domain.ErrNotFound{Resource: "profile", ID: se.PG.Details}
	case se.PG.Code == "23514":
		return &domain.ErrValidation{Field: "constraint", Message: se.PG.Message}
	}
	return err
}

// doRequest executes an authenticated GET-style request to PostgREST.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	return c.send(ctx, method, path, nil, "")
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, prefer string) ([]byte, error) {
	url := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		c.logger.Error("supabase: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.serviceRoleKey))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("supabase: failed to read response body",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("supabase: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(data)),
		)
		se := &statusError{Method: method, Path: path, Status: resp.StatusCode, Body: string(data)}
		_ = json.Unmarshal(data, &se.PG)
		return nil, se
	}

	c.logger.Debug("supabase: request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return data, nil
}

// Ping checks PostgREST reachability with a cheap read.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()

	return c.wrap("ping", resilience.Execute(c.cb, func() error {
		_, err := c.doRequest(ctx, http.MethodGet, "products?select=id&limit=1")
		return err
	}))
}
