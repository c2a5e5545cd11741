package gormstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/boddenberg/mining-ledger/internal/domain"
)

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	ctx, span := tracer.Start(ctx, "GormStore.GetProduct")
	defer span.End()

	var m productModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, mapErr(err, "product", id)
	}
	out := m.toDomain()
	return &out, nil
}

func (s *Store) ListProducts(ctx context.Context, activeOnly bool) ([]domain.Product, error) {
	ctx, span := tracer.Start(ctx, "GormStore.ListProducts")
	defer span.End()

	q := s.db.WithContext(ctx).Order("sort_order asc")
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var rows []productModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, mapErr(err, "products", "")
	}
	return toDomainSlice(rows, (*productModel).toDomain), nil
}

func (s *Store) CreateInvestment(ctx context.Context, inv *domain.Investment) (*domain.Investment, error) {
	ctx, span := tracer.Start(ctx, "GormStore.CreateInvestment")
	defer span.End()

	m := investmentModel{
		Base:       Base{ID: inv.ID},
		UserID:     inv.UserID,
		ProductID:  inv.ProductID,
		Amount:     inv.Amount,
		Roi:        inv.Roi,
		RoiPaid:    inv.RoiPaid,
		Status:     string(domain.InvestmentActive),
		InvestedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, mapErr(err, "investment", "")
	}
	out := m.toDomain()
	return &out, nil
}

func (s *Store) GetInvestment(ctx context.Context, id string) (*domain.Investment, error) {
	ctx, span := tracer.Start(ctx, "GormStore.GetInvestment")
	defer span.End()

	var m investmentModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, mapErr(err, "investment", id)
	}
	out := m.toDomain()
	return &out, nil
}

func (s *Store) ListInvestments(ctx context.Context, f domain.InvestmentFilter) ([]domain.Investment, error) {
	ctx, span := tracer.Start(ctx, "GormStore.ListInvestments")
	defer span.End()

	q := s.db.WithContext(ctx).Order("invested_at desc")
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []investmentModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, mapErr(err, "investments", "")
	}
	return toDomainSlice(rows, (*investmentModel).toDomain), nil
}

type activeInvestmentRow struct {
	Investment   investmentModel `gorm:"embedded"`
	DurationDays int
}

func (s *Store) ListActiveInvestments(ctx context.Context) ([]domain.Investment, error) {
	ctx, span := tracer.Start(ctx, "GormStore.ListActiveInvestments")
	defer span.End()

	var rows []activeInvestmentRow
	err := s.db.WithContext(ctx).
		Table("investments").
		Select("investments.*, COALESCE(products.duration_days, 0) AS duration_days").
		Joins("LEFT JOIN products ON products.id = investments.product_id").
		Where("investments.status = ?", string(domain.InvestmentActive)).
		Order("investments.invested_at asc").
		Scan(&rows).Error
	if err != nil {
		return nil, mapErr(err, "investments", "")
	}

	out := make([]domain.Investment, 0, len(rows))
	for i := range rows {
		inv := rows[i].Investment.toDomain()
		inv.DurationDays = rows[i].DurationDays
		out = append(out, inv)
	}
	return out, nil
}

// UpdateInvestmentProgress is an UPDATE guarded on the expected roi_paid and
// status. Zero rows affected means another writer got there first.
func (s *Store) UpdateInvestmentProgress(ctx context.Context, p domain.InvestmentProgress) (*domain.Investment, error) {
	ctx, span := tracer.Start(ctx, "GormStore.UpdateInvestmentProgress")
	defer span.End()

	var m investmentModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&investmentModel{}).
			Where("id = ? AND roi_paid = ? AND status = ?", p.ID, p.ExpectedRoiPaid, string(p.ExpectedStatus)).
			Updates(map[string]any{
				"roi_paid":        p.RoiPaid,
				"status":          string(p.Status),
				"last_accrued_at": p.LastAccruedAt,
				"completed_at":    p.CompletedAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.Where("id = ?", p.ID).First(&m).Error; err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return &domain.ErrConflict{Message: fmt.Sprintf("investment %s changed concurrently", p.ID)}
		}
		return nil
	})
	if err != nil {
		return nil, mapErr(err, "investment", p.ID)
	}
	out := m.toDomain()
	return &out, nil
}

func (s *Store) ListEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	ctx, span := tracer.Start(ctx, "GormStore.ListEntries")
	defer span.End()

	q := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []ledgerEntryModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, mapErr(err, "ledger_entries", userID)
	}
	return toDomainSlice(rows, (*ledgerEntryModel).toDomain), nil
}
