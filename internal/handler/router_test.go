package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/handler"
	"github.com/boddenberg/mining-ledger/internal/infra/cache"
	"github.com/boddenberg/mining-ledger/internal/infra/gormstore"
	"github.com/boddenberg/mining-ledger/internal/infra/lock"
	"github.com/boddenberg/mining-ledger/internal/infra/observability"
	"github.com/boddenberg/mining-ledger/internal/infra/resilience"
	"github.com/boddenberg/mining-ledger/internal/service"
)

const cronKey = "s3cret-cron"

var jwtSecret = []byte("test-jwt-secret")

type testAPI struct {
	t       *testing.T
	handler http.Handler
	db      *gorm.DB
	store   *gormstore.Store
	locker  *lock.LocalLocker
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(gormstore.Models()...))

	log := zap.NewNop()
	metrics := observability.NewMetrics()
	store := gormstore.New(db, log)
	locker := lock.NewLocalLocker()

	products := cache.New[[]domain.Product](time.Minute)
	t.Cleanup(products.Close)

	ledger := service.NewLedger(store, store, resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond}, metrics, log)
	catalog := service.NewCatalogService(store, products, metrics)
	investments := service.NewInvestmentService(store, catalog, ledger, log)

	hash, err := bcrypt.GenerateFromPassword([]byte(cronKey), bcrypt.MinCost)
	require.NoError(t, err)

	deps := handler.Deps{
		Profiles:    service.NewProfileService(store, ledger, 0, log),
		Catalog:     catalog,
		Ledger:      ledger,
		Deposits:    service.NewDepositService(store, ledger, 1000, log),
		Withdrawals: service.NewWithdrawalService(store, store, ledger, 1000, log),
		Investments: investments,
		Admin:       service.NewAdminService(store, catalog, log),
		Accrual: service.NewAccrualJob(store, ledger, locker, service.AccrualConfig{
			Period:         24 * time.Hour,
			LockTTL:        time.Minute,
			MinDailyShare:  1,
			MaxConcurrency: 2,
		}, metrics, log),
		Store:          store,
		Roles:          store,
		Idempotency:    lock.NewLocalIdempotency(),
		IdempotencyTTL: time.Hour,
		JWTSecret:      jwtSecret,
		CronKeyHash:    hash,
	}

	return &testAPI{
		t:       t,
		handler: handler.NewRouter(deps, metrics, log),
		db:      db,
		store:   store,
		locker:  locker,
	}
}

func token(t *testing.T, userID string, expiresIn time.Duration) string {
	t.Helper()
	claims := handler.UserClaims{
		Role: "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
	require.NoError(t, err)
	return s
}

func (a *testAPI) do(method, path, userID string, body any, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(a.t, userID, time.Hour))
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) register(phone string) string {
	a.t.Helper()
	userID := uuid.NewString()
	rec := a.do(http.MethodPost, "/v1/profile", userID, domain.RegisterRequest{Phone: phone, FullName: "Ada Obi"})
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	return userID
}

func (a *testAPI) makeAdmin(userID string) {
	a.t.Helper()
	require.NoError(a.t, a.db.Exec("INSERT INTO user_roles (user_id, role) VALUES (?, ?)", userID, "admin").Error)
}

func (a *testAPI) addProduct(price, roi int64, days int) string {
	a.t.Helper()
	id := uuid.NewString()
	require.NoError(a.t, a.db.Exec(
		"INSERT INTO products (id, name, price, roi, duration_days, is_active, sort_order) VALUES (?, ?, ?, ?, ?, ?, ?)",
		id, "Gold Rig", price, roi, days, true, 1,
	).Error)
	return id
}

func (a *testAPI) balance(userID string) int64 {
	a.t.Helper()
	p, err := a.store.GetProfile(context.Background(), userID)
	require.NoError(a.t, err)
	return p.Balance
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthz(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	health := decode[domain.HealthStatus](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Len(t, health.Services, 2)
}

func TestReadyzAndMetrics(t *testing.T) {
	api := newTestAPI(t)

	assert.Equal(t, http.StatusOK, api.do(http.MethodGet, "/readyz", "", nil).Code)

	api.do(http.MethodGet, "/healthz", "", nil)
	rec := api.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledger_request_duration_seconds")
}

func TestAuth_RejectsMissingAndExpiredTokens(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodGet, "/v1/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired := token(t, uuid.NewString(), -time.Minute)
	rec = api.do(http.MethodGet, "/v1/profile", "", nil, "Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodGet, "/v1/profile", "", nil, "Authorization", "Basic abc")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestParseUserToken(t *testing.T) {
	userID := uuid.NewString()

	claims, err := handler.ParseUserToken(jwtSecret, token(t, userID, time.Hour))
	require.NoError(t, err)
	assert.Equal(t, userID, claims.Subject)

	_, err = handler.ParseUserToken([]byte("other-secret"), token(t, userID, time.Hour))
	assert.Error(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: userID}).SignedString(jwtSecret)
	require.NoError(t, err)
	_, err = handler.ParseUserToken(jwtSecret, noExp)
	assert.Error(t, err, "tokens without exp are refused")

	noSub, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(jwtSecret)
	require.NoError(t, err)
	_, err = handler.ParseUserToken(jwtSecret, noSub)
	assert.Error(t, err)
}

func TestProfile_RegisterAndFetch(t *testing.T) {
	api := newTestAPI(t)
	userID := api.register("08012345678")

	rec := api.do(http.MethodGet, "/v1/profile", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[domain.Profile](t, rec)
	assert.Equal(t, userID, p.UserID)
	assert.Equal(t, int64(0), p.Balance)
	assert.NotEmpty(t, p.ReferralCode)

	rec = api.do(http.MethodPost, "/v1/profile", userID, domain.RegisterRequest{Phone: "08012345678", FullName: "Ada Obi"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProfile_ValidationDetails(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(http.MethodPost, "/v1/profile", uuid.NewString(), map[string]string{"full_name": "No Phone"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error   string            `json:"error"`
		Details map[string]string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Details, "phone")
}

func TestAdmin_ForbiddenForRegularUser(t *testing.T) {
	api := newTestAPI(t)
	userID := api.register("08012345678")

	rec := api.do(http.MethodGet, "/v1/admin/stats", userID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDepositApprovalFlow(t *testing.T) {
	api := newTestAPI(t)
	userID := api.register("08012345678")
	adminID := api.register("08087654321")
	api.makeAdmin(adminID)

	rec := api.do(http.MethodPost, "/v1/deposits", userID, domain.DepositRequest{Amount: 500, TransactionID: "TX-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "below minimum")

	rec = api.do(http.MethodPost, "/v1/deposits", userID, domain.DepositRequest{Amount: 5000, TransactionID: "TX-2"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dep := decode[domain.Deposit](t, rec)
	assert.Equal(t, domain.RequestPending, dep.Status)

	rec = api.do(http.MethodGet, "/v1/admin/deposits?status=pending", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	views := decode[[]domain.DepositView](t, rec)
	require.Len(t, views, 1)
	require.NotNil(t, views[0].Owner)
	assert.Equal(t, "08012345678", views[0].Owner.Phone)

	rec = api.do(http.MethodPost, "/v1/admin/deposits/"+dep.ID+"/approve", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(5000), api.balance(userID))

	rec = api.do(http.MethodPost, "/v1/admin/deposits/"+dep.ID+"/approve", adminID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code, "second approval refused")
	assert.Equal(t, int64(5000), api.balance(userID), "credited exactly once")

	rec = api.do(http.MethodGet, "/v1/ledger", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]domain.LedgerEntry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(5000), entries[0].Amount)
}

func TestWithdrawal_InsufficientFunds(t *testing.T) {
	api := newTestAPI(t)
	userID := api.register("08012345678")

	rec := api.do(http.MethodPut, "/v1/profile", userID, domain.ProfileDetails{
		BankName: "GTBank", AccountNumber: "0123456789", AccountName: "Ada Obi",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do(http.MethodPost, "/v1/withdrawals", userID, domain.WithdrawalRequest{Amount: 2000})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
}

func TestInvest_IdempotentReplay(t *testing.T) {
	api := newTestAPI(t)
	userID := api.register("08012345678")
	productID := api.addProduct(5000, 6000, 10)

	_, err := api.store.AdjustBalance(context.Background(), userID, domain.BalanceDelta{Balance: 12000})
	require.NoError(t, err)

	first := api.do(http.MethodPost, "/v1/investments", userID, domain.InvestRequest{ProductID: productID},
		handler.IdempotencyKeyHeader, "buy-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := api.do(http.MethodPost, "/v1/investments", userID, domain.InvestRequest{ProductID: productID},
		handler.IdempotencyKeyHeader, "buy-1")
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	assert.Equal(t, int64(7000), api.balance(userID), "debited once")

	rec := api.do(http.MethodGet, "/v1/investments", userID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	views := decode[[]domain.InvestmentView](t, rec)
	require.Len(t, views, 1)
	assert.Equal(t, "Gold Rig", views[0].ProductName)
}

func TestDailyROIJob(t *testing.T) {
	api := newTestAPI(t)
	userID := api.register("08012345678")
	productID := api.addProduct(5000, 6000, 10)

	_, err := api.store.AdjustBalance(context.Background(), userID, domain.BalanceDelta{Balance: 5000})
	require.NoError(t, err)
	rec := api.do(http.MethodPost, "/v1/investments", userID, domain.InvestRequest{ProductID: productID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	t.Run("missing key", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/v1/jobs/daily-roi", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong key", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/v1/jobs/daily-roi", "", nil, handler.CronKeyHeader, "guess")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("lease held elsewhere", func(t *testing.T) {
		release, ok, err := api.locker.Acquire(context.Background(), service.AccrualLockKey, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
		defer release(context.Background())

		rec := api.do(http.MethodPost, "/v1/jobs/daily-roi", "", nil, handler.CronKeyHeader, cronKey)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, int64(0), api.balance(userID))
	})

	t.Run("credits once per period", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/v1/jobs/daily-roi", "", nil, handler.CronKeyHeader, cronKey)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		summary := decode[domain.AccrualSummary](t, rec)
		assert.Equal(t, 1, summary.Processed)
		assert.Equal(t, int64(600), api.balance(userID))

		rec = api.do(http.MethodPost, "/v1/jobs/daily-roi", "", nil, handler.CronKeyHeader, cronKey)
		require.Equal(t, http.StatusOK, rec.Code)
		summary = decode[domain.AccrualSummary](t, rec)
		assert.Equal(t, 0, summary.Processed)
		assert.Equal(t, 1, summary.Skipped)
		assert.Equal(t, int64(600), api.balance(userID))
	})
}

func TestAdmin_CompleteInvestmentPaysRemainder(t *testing.T) {
	api := newTestAPI(t)
	userID := api.register("08012345678")
	adminID := api.register("08087654321")
	api.makeAdmin(adminID)
	productID := api.addProduct(5000, 6000, 10)

	_, err := api.store.AdjustBalance(context.Background(), userID, domain.BalanceDelta{Balance: 5000})
	require.NoError(t, err)
	rec := api.do(http.MethodPost, "/v1/investments", userID, domain.InvestRequest{ProductID: productID})
	require.Equal(t, http.StatusCreated, rec.Code)
	inv := decode[domain.Investment](t, rec)

	rec = api.do(http.MethodPost, "/v1/admin/investments/"+inv.ID+"/complete", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(6000), api.balance(userID))

	rec = api.do(http.MethodPost, "/v1/admin/investments/"+inv.ID+"/complete", adminID, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = api.do(http.MethodGet, "/v1/admin/stats", adminID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[domain.AdminStats](t, rec)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 0, stats.ActiveInvestments)
}
