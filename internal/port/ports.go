// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service layer
// from the concrete store, lock and cache implementations.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/mining-ledger/internal/domain"
)

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// Locker hands out short-lived exclusive leases. Acquire returns ok=false
// without error when another holder owns the key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// IdempotencyStore remembers responses keyed by a client-supplied key.
// Begin returns the cached payload when one exists, started=true when the
// caller now owns the key, and neither while another request holds it.
type IdempotencyStore interface {
	Begin(ctx context.Context, key string, ttl time.Duration) (cached []byte, started bool, err error)
	Complete(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Abort(ctx context.Context, key string) error
}

// ProfileStore persists profiles. AdjustBalance is the only way balances
// change and must be a single atomic relative update at the storage layer.
// When the delta carries a reference, the journal row is written in the
// same transaction and the reference is unique: a replay returns
// *domain.ErrDuplicate without moving the balance again.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)
	GetProfileByPhone(ctx context.Context, phone string) (*domain.Profile, error)
	GetProfileByReferralCode(ctx context.Context, code string) (*domain.Profile, error)
	CreateProfile(ctx context.Context, p *domain.Profile) (*domain.Profile, error)
	UpdateProfileDetails(ctx context.Context, userID string, details domain.ProfileDetails) (*domain.Profile, error)
	ListProfiles(ctx context.Context, limit int) ([]domain.Profile, error)
	ListProfilesByUserIDs(ctx context.Context, userIDs []string) ([]domain.Profile, error)
	AdjustBalance(ctx context.Context, userID string, delta domain.BalanceDelta) (*domain.Profile, error)
}

// ProductStore reads the product catalog.
type ProductStore interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error)
}

// DepositStore persists deposits. TransitionDeposit applies only while the
// stored status equals from, otherwise it returns *domain.ErrConflict.
type DepositStore interface {
	CreateDeposit(ctx context.Context, d *domain.Deposit) (*domain.Deposit, error)
	GetDeposit(ctx context.Context, id string) (*domain.Deposit, error)
	ListDeposits(ctx context.Context, f domain.RequestFilter) ([]domain.Deposit, error)
	TransitionDeposit(ctx context.Context, id string, from, to domain.RequestStatus) (*domain.Deposit, error)
}

// WithdrawalStore persists withdrawals with the same transition contract.
type WithdrawalStore interface {
	CreateWithdrawal(ctx context.Context, w *domain.Withdrawal) (*domain.Withdrawal, error)
	GetWithdrawal(ctx context.Context, id string) (*domain.Withdrawal, error)
	ListWithdrawals(ctx context.Context, f domain.RequestFilter) ([]domain.Withdrawal, error)
	TransitionWithdrawal(ctx context.Context, id string, from, to domain.RequestStatus) (*domain.Withdrawal, error)
}

// InvestmentStore persists investments. UpdateInvestmentProgress is an
// optimistic update keyed on the expected roi_paid and status.
type InvestmentStore interface {
	CreateInvestment(ctx context.Context, inv *domain.Investment) (*domain.Investment, error)
	GetInvestment(ctx context.Context, id string) (*domain.Investment, error)
	ListInvestments(ctx context.Context, f domain.InvestmentFilter) ([]domain.Investment, error)
	ListActiveInvestments(ctx context.Context) ([]domain.Investment, error)
	UpdateInvestmentProgress(ctx context.Context, p domain.InvestmentProgress) (*domain.Investment, error)
}

// EntryStore reads the settlement journal written by AdjustBalance.
type EntryStore interface {
	ListEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error)
}

// RoleStore answers authorization questions.
type RoleStore interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// Store is everything the ledger needs from persistence.
// Implemented by the Supabase adapter and the GORM adapter.
type Store interface {
	ProfileStore
	ProductStore
	DepositStore
	WithdrawalStore
	InvestmentStore
	EntryStore
	RoleStore
	Ping(ctx context.Context) error
}
