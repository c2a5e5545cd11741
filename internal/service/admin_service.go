package service

import (
	"context"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/port"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var adminTracer = otel.Tracer("service/admin")

const adminUsersLimit = 200

// AdminStore is the read side the admin dashboard needs.
type AdminStore interface {
	port.ProfileStore
	port.DepositStore
	port.WithdrawalStore
	port.InvestmentStore
}

// AdminService builds the admin read models.
type AdminService struct {
	store   AdminStore
	catalog *CatalogService
	logger  *zap.Logger
}

// NewAdminService creates an admin service.
func NewAdminService(store AdminStore, catalog *CatalogService, logger *zap.Logger) *AdminService {
	return &AdminService{store: store, catalog: catalog, logger: logger}
}

// ListDeposits returns up to 100 deposits, optionally filtered by status.
func (s *AdminService) ListDeposits(ctx context.Context, status string) ([]domain.DepositView, error) {
	ctx, span := adminTracer.Start(ctx, "AdminService.ListDeposits")
	defer span.End()

	st, err := normalizeStatus(status)
	if err != nil {
		return nil, err
	}
	deposits, err := s.store.ListDeposits(ctx, domain.RequestFilter{Status: st, Limit: listLimit})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(deposits))
	for _, d := range deposits {
		ids = append(ids, d.UserID)
	}
	owners := s.owners(ctx, ids)

	views := make([]domain.DepositView, 0, len(deposits))
	for _, d := range deposits {
		views = append(views, domain.DepositView{Deposit: d, Owner: owners[d.UserID]})
	}
	return views, nil
}

// ListWithdrawals returns up to 100 withdrawals, optionally filtered by status.
func (s *AdminService) ListWithdrawals(ctx context.Context, status string) ([]domain.WithdrawalView, error) {
	ctx, span := adminTracer.Start(ctx, "AdminService.ListWithdrawals")
	defer span.End()

	st, err := normalizeStatus(status)
	if err != nil {
		return nil, err
	}
	withdrawals, err := s.store.ListWithdrawals(ctx, domain.RequestFilter{Status: st, Limit: listLimit})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(withdrawals))
	for _, w := range withdrawals {
		ids = append(ids, w.UserID)
	}
	owners := s.owners(ctx, ids)

	views := make([]domain.WithdrawalView, 0, len(withdrawals))
	for _, w := range withdrawals {
		views = append(views, domain.WithdrawalView{Withdrawal: w, Owner: owners[w.UserID]})
	}
	return views, nil
}

// ListInvestments returns up to 100 investments with owner and product name.
func (s *AdminService) ListInvestments(ctx context.Context, status string) ([]domain.InvestmentView, error) {
	ctx, span := adminTracer.Start(ctx, "AdminService.ListInvestments")
	defer span.End()

	var st domain.InvestmentStatus
	if status != "" && status != "all" {
		parsed, err := domain.ParseInvestmentStatus(status)
		if err != nil {
			return nil, err
		}
		st = parsed
	}

	invs, err := s.store.ListInvestments(ctx, domain.InvestmentFilter{Status: st, Limit: listLimit})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(invs))
	for _, inv := range invs {
		ids = append(ids, inv.UserID)
	}
	owners := s.owners(ctx, ids)
	names, err := s.catalog.ProductNames(ctx)
	if err != nil {
		s.logger.Warn("admin: product names unavailable", zap.Error(err))
	}

	views := make([]domain.InvestmentView, 0, len(invs))
	for _, inv := range invs {
		views = append(views, domain.InvestmentView{
			Investment:  inv,
			ProductName: names[inv.ProductID],
			Owner:       owners[inv.UserID],
		})
	}
	return views, nil
}

// ListUsers returns the newest profiles.
func (s *AdminService) ListUsers(ctx context.Context) ([]domain.Profile, error) {
	ctx, span := adminTracer.Start(ctx, "AdminService.ListUsers")
	defer span.End()

	return s.store.ListProfiles(ctx, adminUsersLimit)
}

// Stats counts the dashboard headline figures concurrently.
func (s *AdminService) Stats(ctx context.Context) (*domain.AdminStats, error) {
	ctx, span := adminTracer.Start(ctx, "AdminService.Stats")
	defer span.End()

	var stats domain.AdminStats
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d, err := s.store.ListDeposits(gctx, domain.RequestFilter{Status: domain.RequestPending})
		stats.PendingDeposits = len(d)
		return err
	})
	g.Go(func() error {
		w, err := s.store.ListWithdrawals(gctx, domain.RequestFilter{Status: domain.RequestPending})
		stats.PendingWithdrawals = len(w)
		return err
	})
	g.Go(func() error {
		inv, err := s.store.ListInvestments(gctx, domain.InvestmentFilter{Status: domain.InvestmentActive})
		stats.ActiveInvestments = len(inv)
		return err
	})
	g.Go(func() error {
		p, err := s.store.ListProfiles(gctx, 0)
		stats.Users = len(p)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &stats, nil
}

// owners resolves profile summaries for the given user IDs. A lookup
// failure degrades to listings without owner data.
func (s *AdminService) owners(ctx context.Context, userIDs []string) map[string]*domain.ProfileSummary {
	out := make(map[string]*domain.ProfileSummary, len(userIDs))
	if len(userIDs) == 0 {
		return out
	}
	profiles, err := s.store.ListProfilesByUserIDs(ctx, dedupe(userIDs))
	if err != nil {
		s.logger.Warn("admin: owner lookup failed", zap.Error(err))
		return out
	}
	for i := range profiles {
		out[profiles[i].UserID] = profiles[i].Summary()
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
