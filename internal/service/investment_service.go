package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var investmentTracer = otel.Tracer("service/investment")

// InvestmentService handles purchases and manual completion.
type InvestmentService struct {
	store   port.InvestmentStore
	catalog *CatalogService
	ledger  *Ledger
	now     func() time.Time
	logger  *zap.Logger
}

// NewInvestmentService creates an investment service.
func NewInvestmentService(store port.InvestmentStore, catalog *CatalogService, ledger *Ledger, logger *zap.Logger) *InvestmentService {
	return &InvestmentService{store: store, catalog: catalog, ledger: ledger, now: time.Now, logger: logger}
}

// Invest debits the product price and opens an active investment. The ID
// is chosen up front so the purchase is journaled as investment:<id>:purchase
// and a failed insert can be checked by reading the row back. The price is
// refunded only when the investment is known not to exist.
func (s *InvestmentService) Invest(ctx context.Context, userID, productID string) (*domain.Investment, error) {
	ctx, span := investmentTracer.Start(ctx, "InvestmentService.Invest")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.String("product.id", productID))

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, &domain.ErrValidation{Field: "product_id", Message: "product is not available"}
	}

	id := uuid.NewString()
	if _, err := s.ledger.Debit(ctx, userID, product.Price, domain.EntryInvestmentPurchase, investmentRef(id, "purchase")); err != nil {
		return nil, err
	}

	inv, err := s.store.CreateInvestment(ctx, &domain.Investment{
		ID:        id,
		UserID:    userID,
		ProductID: product.ID,
		Amount:    product.Price,
		Roi:       product.Roi,
		RoiPaid:   0,
		Status:    domain.InvestmentActive,
	})
	if err != nil {
		return s.recoverInsert(ctx, userID, product, id, err)
	}

	s.logger.Info("investment opened",
		zap.String("investment_id", inv.ID),
		zap.String("user_id", userID),
		zap.String("product_id", product.ID),
		zap.Int64("amount", inv.Amount),
		zap.Int64("roi", inv.Roi),
	)
	return inv, nil
}

// recoverInsert decides what a failed insert means. A row that reads back
// was committed and is kept; a missing row gets the price refunded; when
// even the read fails the price stays debited for reconciliation.
func (s *InvestmentService) recoverInsert(ctx context.Context, userID string, product *domain.Product, id string, insertErr error) (*domain.Investment, error) {
	log := s.logger.With(
		zap.String("investment_id", id),
		zap.String("user_id", userID),
		zap.String("product_id", product.ID),
	)

	existing, err := s.store.GetInvestment(ctx, id)
	if err == nil {
		log.Warn("investment insert reported an error but the row exists, keeping it", zap.Error(insertErr))
		return existing, nil
	}
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		log.Error("investment state unknown, price kept debited, manual reconciliation required",
			zap.String("reference", investmentRef(id, "purchase")),
			zap.Error(insertErr),
			zap.NamedError("read_error", err),
		)
		return nil, errors.Join(insertErr, err)
	}

	log.Error("investment insert failed, refunding price", zap.Error(insertErr))
	if cerr := s.ledger.compensate(ctx, userID, product.Price, domain.EntryInvestmentRefund, investmentRef(id, "refund")); cerr != nil {
		return nil, errors.Join(insertErr, cerr)
	}
	return nil, insertErr
}

// ListMine returns the caller's investments with product names.
func (s *InvestmentService) ListMine(ctx context.Context, userID string) ([]domain.InvestmentView, error) {
	ctx, span := investmentTracer.Start(ctx, "InvestmentService.ListMine")
	defer span.End()

	invs, err := s.store.ListInvestments(ctx, domain.InvestmentFilter{UserID: userID, Limit: listLimit})
	if err != nil {
		return nil, err
	}
	names, err := s.catalog.ProductNames(ctx)
	if err != nil {
		s.logger.Warn("product names unavailable", zap.Error(err))
	}

	views := make([]domain.InvestmentView, 0, len(invs))
	for _, inv := range invs {
		views = append(views, domain.InvestmentView{Investment: inv, ProductName: names[inv.ProductID]})
	}
	return views, nil
}

// Complete is the admin action: pay whatever ROI is still owed and close.
func (s *InvestmentService) Complete(ctx context.Context, id string) (*domain.Investment, error) {
	ctx, span := investmentTracer.Start(ctx, "InvestmentService.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("investment.id", id))

	inv, err := s.store.GetInvestment(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.SettleRemaining(ctx, inv)
}

// SettleRemaining pays exactly roi - roi_paid and marks the investment
// completed. The progress update is claimed first with a version check,
// then the credit is applied under investment:<id>:settlement. Only a
// refused credit reverts the claim; an unknown outcome keeps it so no other
// path can pay the same ROI again.
func (s *InvestmentService) SettleRemaining(ctx context.Context, inv *domain.Investment) (*domain.Investment, error) {
	if inv.Status != domain.InvestmentActive {
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("investment %s is already %s", inv.ID, inv.Status)}
	}

	remaining := inv.Remaining()
	if remaining < 0 {
		remaining = 0
	}
	now := s.now().UTC()

	claimed, err := s.store.UpdateInvestmentProgress(ctx, domain.InvestmentProgress{
		ID:              inv.ID,
		ExpectedRoiPaid: inv.RoiPaid,
		ExpectedStatus:  inv.Status,
		RoiPaid:         inv.RoiPaid + remaining,
		Status:          domain.InvestmentCompleted,
		LastAccruedAt:   inv.LastAccruedAt,
		CompletedAt:     &now,
	})
	if err != nil {
		return nil, err
	}

	if remaining > 0 {
		ref := investmentRef(inv.ID, "settlement")
		_, err := s.ledger.Credit(ctx, inv.UserID, remaining, domain.EntryRoiSettlement, ref)
		switch {
		case err == nil, alreadySettled(err):
		case refused(err):
			s.logger.Warn("settlement credit refused, reverting completion",
				zap.String("investment_id", inv.ID),
				zap.Error(err),
			)
			if rerr := revertProgress(ctx, s.store, claimed, inv); rerr != nil {
				s.logger.Error("settlement revert failed, manual reconciliation required",
					zap.String("investment_id", inv.ID),
					zap.Error(rerr),
				)
				return nil, errors.Join(err, rerr)
			}
			return nil, err
		default:
			s.logger.Error("settlement credit outcome unknown, keeping completion, manual reconciliation required",
				zap.String("investment_id", inv.ID),
				zap.String("reference", ref),
				zap.Int64("amount", remaining),
				zap.Error(err),
			)
			return nil, err
		}
	}

	s.logger.Info("investment completed",
		zap.String("investment_id", inv.ID),
		zap.String("user_id", inv.UserID),
		zap.Int64("settled", remaining),
	)
	return claimed, nil
}

// revertProgress restores prev over the claimed state, guarded on the claim.
func revertProgress(ctx context.Context, store port.InvestmentStore, claimed, prev *domain.Investment) error {
	_, err := store.UpdateInvestmentProgress(ctx, domain.InvestmentProgress{
		ID:              prev.ID,
		ExpectedRoiPaid: claimed.RoiPaid,
		ExpectedStatus:  claimed.Status,
		RoiPaid:         prev.RoiPaid,
		Status:          prev.Status,
		LastAccruedAt:   prev.LastAccruedAt,
		CompletedAt:     prev.CompletedAt,
	})
	return err
}

func investmentRef(id, step string) string {
	return "investment:" + id + ":" + step
}
