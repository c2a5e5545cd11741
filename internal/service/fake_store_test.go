package service_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/infra/cache"
	"github.com/boddenberg/mining-ledger/internal/infra/lock"
	"github.com/boddenberg/mining-ledger/internal/infra/observability"
	"github.com/boddenberg/mining-ledger/internal/infra/resilience"
	"github.com/boddenberg/mining-ledger/internal/service"

	"go.uber.org/zap"
)

// --- Fake store ---

// fakeStore is an in-memory port.Store whose primitives are atomic under a
// single mutex, with hooks to inject failures into individual calls.
type fakeStore struct {
	mu          sync.Mutex
	seq         int
	profiles    map[string]*domain.Profile
	products    map[string]*domain.Product
	deposits    map[string]*domain.Deposit
	withdrawals map[string]*domain.Withdrawal
	investments map[string]*domain.Investment
	entries     []domain.LedgerEntry
	admins      map[string]bool

	// failAdjust, when set, is consulted before every AdjustBalance.
	failAdjust func(userID string, delta domain.BalanceDelta) error
	// loseAdjustResponse, when set, is consulted after an AdjustBalance has
	// committed; its error is returned as if the response never arrived.
	loseAdjustResponse   func(userID string, delta domain.BalanceDelta) error
	failCreateInvestment error
	// loseCreateResponse makes CreateInvestment store the row and still fail.
	loseCreateResponse error
	failProgress       error
	adjustCalls        int

	// beforeCreateInvestment runs outside the lock, ahead of the insert.
	beforeCreateInvestment func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:    make(map[string]*domain.Profile),
		products:    make(map[string]*domain.Product),
		deposits:    make(map[string]*domain.Deposit),
		withdrawals: make(map[string]*domain.Withdrawal),
		investments: make(map[string]*domain.Investment),
		admins:      make(map[string]bool),
	}
}

func (f *fakeStore) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) addProfile(userID, phone string, balance int64) *domain.Profile {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &domain.Profile{
		ID:           f.nextID("profile"),
		UserID:       userID,
		Phone:        phone,
		FullName:     "User " + userID,
		Balance:      balance,
		ReferralCode: fmt.Sprintf("CODE%04d", f.seq),
		CreatedAt:    time.Now(),
	}
	f.profiles[userID] = p
	return p
}

func (f *fakeStore) addProduct(p domain.Product) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[p.ID] = &p
}

func (f *fakeStore) balance(userID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles[userID].Balance
}

func (f *fakeStore) investment(id string) domain.Investment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.investments[id]
}

func (f *fakeStore) countInvestments() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.investments)
}

// Profiles

func (f *fakeStore) GetProfile(_ context.Context, userID string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) GetProfileByPhone(_ context.Context, phone string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if p.Phone == phone {
			cp := *p
			return &cp, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "profile", ID: phone}
}

func (f *fakeStore) GetProfileByReferralCode(_ context.Context, code string) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.profiles {
		if p.ReferralCode == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "profile", ID: code}
}

func (f *fakeStore) CreateProfile(_ context.Context, p *domain.Profile) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.profiles {
		if existing.Phone == p.Phone || existing.UserID == p.UserID {
			return nil, &domain.ErrConflict{Message: "duplicate profile"}
		}
	}
	cp := *p
	cp.ID = f.nextID("profile")
	cp.CreatedAt = time.Now()
	f.profiles[cp.UserID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeStore) UpdateProfileDetails(_ context.Context, userID string, d domain.ProfileDetails) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[userID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	p.FullName, p.BankName, p.AccountNumber, p.AccountName = d.FullName, d.BankName, d.AccountNumber, d.AccountName
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ListProfiles(_ context.Context, limit int) ([]domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Profile, 0, len(f.profiles))
	for _, p := range f.profiles {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) ListProfilesByUserIDs(_ context.Context, ids []string) ([]domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Profile
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeStore) AdjustBalance(_ context.Context, userID string, delta domain.BalanceDelta) (*domain.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adjustCalls++
	if f.failAdjust != nil {
		if err := f.failAdjust(userID, delta); err != nil {
			return nil, err
		}
	}
	if delta.Reference != "" {
		for _, e := range f.entries {
			if e.Reference == delta.Reference {
				return nil, &domain.ErrDuplicate{Key: delta.Reference}
			}
		}
	}
	p, ok := f.profiles[userID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "profile", ID: userID}
	}
	if delta.RequireSufficient && p.Balance+delta.Balance < 0 {
		return nil, &domain.ErrInsufficientFunds{Available: p.Balance, Required: -delta.Balance}
	}
	p.Balance += delta.Balance
	p.ReferralEarnings += delta.ReferralEarnings
	if delta.Reference != "" {
		f.entries = append(f.entries, domain.LedgerEntry{
			ID:           f.nextID("entry"),
			UserID:       userID,
			Kind:         delta.Kind,
			Amount:       delta.Balance,
			BalanceAfter: p.Balance,
			Reference:    delta.Reference,
			CreatedAt:    time.Now(),
		})
	}
	if f.loseAdjustResponse != nil {
		if err := f.loseAdjustResponse(userID, delta); err != nil {
			return nil, err
		}
	}
	cp := *p
	return &cp, nil
}

// Products

func (f *fakeStore) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "product", ID: id}
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) ListProducts(_ context.Context, activeOnly bool) ([]domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Product
	for _, p := range f.products {
		if activeOnly && !p.IsActive {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out, nil
}

// Deposits

func (f *fakeStore) CreateDeposit(_ context.Context, d *domain.Deposit) (*domain.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *d
	cp.ID = f.nextID("deposit")
	cp.CreatedAt = time.Now()
	f.deposits[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeStore) GetDeposit(_ context.Context, id string) (*domain.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deposits[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "deposit", ID: id}
	}
	cp := *d
	return &cp, nil
}

func (f *fakeStore) ListDeposits(_ context.Context, filter domain.RequestFilter) ([]domain.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Deposit
	for _, d := range f.deposits {
		if filter.UserID != "" && d.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		out = append(out, *d)
	}
	return out, nil
}

func (f *fakeStore) TransitionDeposit(_ context.Context, id string, from, to domain.RequestStatus) (*domain.Deposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := domain.CheckTransition(from, to); err != nil {
		return nil, err
	}
	d, ok := f.deposits[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "deposit", ID: id}
	}
	if d.Status != from {
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("deposit %s is %s, not %s", id, d.Status, from)}
	}
	d.Status = to
	cp := *d
	return &cp, nil
}

// Withdrawals

func (f *fakeStore) CreateWithdrawal(_ context.Context, w *domain.Withdrawal) (*domain.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *w
	cp.ID = f.nextID("withdrawal")
	cp.CreatedAt = time.Now()
	f.withdrawals[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (f *fakeStore) GetWithdrawal(_ context.Context, id string) (*domain.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.withdrawals[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "withdrawal", ID: id}
	}
	cp := *w
	return &cp, nil
}

func (f *fakeStore) ListWithdrawals(_ context.Context, filter domain.RequestFilter) ([]domain.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Withdrawal
	for _, w := range f.withdrawals {
		if filter.UserID != "" && w.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && w.Status != filter.Status {
			continue
		}
		out = append(out, *w)
	}
	return out, nil
}

func (f *fakeStore) TransitionWithdrawal(_ context.Context, id string, from, to domain.RequestStatus) (*domain.Withdrawal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := domain.CheckTransition(from, to); err != nil {
		return nil, err
	}
	w, ok := f.withdrawals[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "withdrawal", ID: id}
	}
	if w.Status != from {
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("withdrawal %s is %s, not %s", id, w.Status, from)}
	}
	w.Status = to
	cp := *w
	return &cp, nil
}

// Investments

func (f *fakeStore) CreateInvestment(_ context.Context, inv *domain.Investment) (*domain.Investment, error) {
	if f.beforeCreateInvestment != nil {
		f.beforeCreateInvestment()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateInvestment != nil {
		return nil, f.failCreateInvestment
	}
	cp := *inv
	if cp.ID == "" {
		cp.ID = f.nextID("investment")
	}
	cp.InvestedAt = time.Now()
	f.investments[cp.ID] = &cp
	if f.loseCreateResponse != nil {
		return nil, f.loseCreateResponse
	}
	out := cp
	return &out, nil
}

func (f *fakeStore) GetInvestment(_ context.Context, id string) (*domain.Investment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.investments[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "investment", ID: id}
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeStore) ListInvestments(_ context.Context, filter domain.InvestmentFilter) ([]domain.Investment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Investment
	for _, inv := range f.investments {
		if filter.UserID != "" && inv.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && inv.Status != filter.Status {
			continue
		}
		out = append(out, *inv)
	}
	return out, nil
}

func (f *fakeStore) ListActiveInvestments(_ context.Context) ([]domain.Investment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Investment
	for _, inv := range f.investments {
		if inv.Status != domain.InvestmentActive {
			continue
		}
		cp := *inv
		if p, ok := f.products[inv.ProductID]; ok {
			cp.DurationDays = p.DurationDays
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateInvestmentProgress(_ context.Context, p domain.InvestmentProgress) (*domain.Investment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failProgress != nil {
		return nil, f.failProgress
	}
	inv, ok := f.investments[p.ID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "investment", ID: p.ID}
	}
	if inv.RoiPaid != p.ExpectedRoiPaid || inv.Status != p.ExpectedStatus {
		return nil, &domain.ErrConflict{Message: "investment changed"}
	}
	inv.RoiPaid = p.RoiPaid
	inv.Status = p.Status
	inv.LastAccruedAt = p.LastAccruedAt
	inv.CompletedAt = p.CompletedAt
	cp := *inv
	return &cp, nil
}

// Entries and roles

func (f *fakeStore) ListEntries(_ context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.LedgerEntry
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].UserID == userID {
			out = append(out, f.entries[i])
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) IsAdmin(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admins[userID], nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }

// --- Fixture ---

type fixture struct {
	store       *fakeStore
	metrics     *observability.Metrics
	ledger      *service.Ledger
	profiles    *service.ProfileService
	catalog     *service.CatalogService
	deposits    *service.DepositService
	withdrawals *service.WithdrawalService
	investments *service.InvestmentService
	admin       *service.AdminService
	locker      *lock.LocalLocker
}

func newFixture() *fixture {
	store := newFakeStore()
	metrics := observability.NewMetrics()
	logger := zap.NewNop()
	ledger := service.NewLedger(store, store, resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond}, metrics, logger)
	catalog := service.NewCatalogService(store, cache.New[[]domain.Product](time.Minute), metrics)
	return &fixture{
		store:       store,
		metrics:     metrics,
		ledger:      ledger,
		profiles:    service.NewProfileService(store, ledger, 1000, logger),
		catalog:     catalog,
		deposits:    service.NewDepositService(store, ledger, 100, logger),
		withdrawals: service.NewWithdrawalService(store, store, ledger, 100, logger),
		investments: service.NewInvestmentService(store, catalog, ledger, logger),
		admin:       service.NewAdminService(store, catalog, logger),
		locker:      lock.NewLocalLocker(),
	}
}

func (fx *fixture) accrualJob(period time.Duration, now func() time.Time) *service.AccrualJob {
	job := service.NewAccrualJob(fx.store, fx.ledger, fx.locker, service.AccrualConfig{
		Period:              period,
		LockTTL:             time.Minute,
		DefaultDurationDays: 30,
		MinDailyShare:       1,
		MaxConcurrency:      4,
	}, fx.metrics, zap.NewNop())
	job.SetClock(now)
	return job
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// entryCount counts journal rows carrying ref.
func (f *fakeStore) entryCount(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e.Reference == ref {
			n++
		}
	}
	return n
}

func (f *fakeStore) deposit(id string) domain.Deposit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.deposits[id]
}
