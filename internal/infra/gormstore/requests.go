package gormstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/boddenberg/mining-ledger/internal/domain"
)

func (s *Store) CreateDeposit(ctx context.Context, d *domain.Deposit) (*domain.Deposit, error) {
	ctx, span := tracer.Start(ctx, "GormStore.CreateDeposit")
	defer span.End()

	m := depositModel{
		UserID:        d.UserID,
		Amount:        d.Amount,
		TransactionID: d.TransactionID,
		ProofNote:     d.ProofNote,
		Status:        string(domain.RequestPending),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, mapErr(err, "deposit", "")
	}
	out := m.toDomain()
	return &out, nil
}

func (s *Store) GetDeposit(ctx context.Context, id string) (*domain.Deposit, error) {
	ctx, span := tracer.Start(ctx, "GormStore.GetDeposit")
	defer span.End()

	var m depositModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, mapErr(err, "deposit", id)
	}
	out := m.toDomain()
	return &out, nil
}

func (s *Store) ListDeposits(ctx context.Context, f domain.RequestFilter) ([]domain.Deposit, error) {
	ctx, span := tracer.Start(ctx, "GormStore.ListDeposits")
	defer span.End()

	var rows []depositModel
	if err := requestQuery(s.db.WithContext(ctx), f).Find(&rows).Error; err != nil {
		return nil, mapErr(err, "deposits", "")
	}
	return toDomainSlice(rows, (*depositModel).toDomain), nil
}

func (s *Store) TransitionDeposit(ctx context.Context, id string, from, to domain.RequestStatus) (*domain.Deposit, error) {
	ctx, span := tracer.Start(ctx, "GormStore.TransitionDeposit")
	defer span.End()

	var m depositModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return transition(tx, &m, id, from, to)
	})
	if err != nil {
		return nil, mapErr(err, "deposit", id)
	}
	out := m.toDomain()
	return &out, nil
}

func (s *Store) CreateWithdrawal(ctx context.Context, w *domain.Withdrawal) (*domain.Withdrawal, error) {
	ctx, span := tracer.Start(ctx, "GormStore.CreateWithdrawal")
	defer span.End()

	m := withdrawalModel{
		UserID:        w.UserID,
		Amount:        w.Amount,
		BankName:      w.BankName,
		AccountNumber: w.AccountNumber,
		AccountName:   w.AccountName,
		Status:        string(domain.RequestPending),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, mapErr(err, "withdrawal", "")
	}
	out := m.toDomain()
	return &out, nil
}

func (s *Store) GetWithdrawal(ctx context.Context, id string) (*domain.Withdrawal, error) {
	ctx, span := tracer.Start(ctx, "GormStore.GetWithdrawal")
	defer span.End()

	var m withdrawalModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, mapErr(err, "withdrawal", id)
	}
	out := m.toDomain()
	return &out, nil
}

func (s *Store) ListWithdrawals(ctx context.Context, f domain.RequestFilter) ([]domain.Withdrawal, error) {
	ctx, span := tracer.Start(ctx, "GormStore.ListWithdrawals")
	defer span.End()

	var rows []withdrawalModel
	if err := requestQuery(s.db.WithContext(ctx), f).Find(&rows).Error; err != nil {
		return nil, mapErr(err, "withdrawals", "")
	}
	return toDomainSlice(rows, (*withdrawalModel).toDomain), nil
}

func (s *Store) TransitionWithdrawal(ctx context.Context, id string, from, to domain.RequestStatus) (*domain.Withdrawal, error) {
	ctx, span := tracer.Start(ctx, "GormStore.TransitionWithdrawal")
	defer span.End()

	var m withdrawalModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return transition(tx, &m, id, from, to)
	})
	if err != nil {
		return nil, mapErr(err, "withdrawal", id)
	}
	out := m.toDomain()
	return &out, nil
}

func requestQuery(q *gorm.DB, f domain.RequestFilter) *gorm.DB {
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	return q.Order("created_at desc")
}

// transition runs UPDATE ... SET status = to WHERE id = ? AND status = from
// and loads the row into dest. A row in another state yields ErrConflict.
func transition(tx *gorm.DB, dest any, id string, from, to domain.RequestStatus) error {
	if err := domain.CheckTransition(from, to); err != nil {
		return err
	}
	res := tx.Model(dest).
		Where("id = ? AND status = ?", id, string(from)).
		Update("status", string(to))
	if res.Error != nil {
		return res.Error
	}
	if err := tx.Where("id = ?", id).First(dest).Error; err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return &domain.ErrConflict{Message: fmt.Sprintf("%s is not %s", id, from)}
	}
	return nil
}
