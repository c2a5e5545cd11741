package gormstore

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/boddenberg/mining-ledger/internal/domain"
)

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "GormStore.GetProfile")
	defer span.End()

	return s.findProfile(ctx, "user_id = ?", userID)
}

func (s *Store) GetProfileByPhone(ctx context.Context, phone string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "GormStore.GetProfileByPhone")
	defer span.End()

	return s.findProfile(ctx, "phone = ?", phone)
}

func (s *Store) GetProfileByReferralCode(ctx context.Context, code string) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "GormStore.GetProfileByReferralCode")
	defer span.End()

	return s.findProfile(ctx, "referral_code = ?", code)
}

func (s *Store) findProfile(ctx context.Context, cond, arg string) (*domain.Profile, error) {
	var m profileModel
	if err := s.db.WithContext(ctx).Where(cond, arg).First(&m).Error; err != nil {
		return nil, mapErr(err, "profile", arg)
	}
	p := m.toDomain()
	return &p, nil
}

func (s *Store) CreateProfile(ctx context.Context, p *domain.Profile) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "GormStore.CreateProfile")
	defer span.End()

	m := profileModel{
		UserID:           p.UserID,
		Phone:            p.Phone,
		FullName:         p.FullName,
		Balance:          p.Balance,
		ReferralCode:     p.ReferralCode,
		ReferredBy:       p.ReferredBy,
		ReferralEarnings: p.ReferralEarnings,
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, mapErr(err, "profile", p.UserID)
	}
	out := m.toDomain()
	return &out, nil
}

func (s *Store) UpdateProfileDetails(ctx context.Context, userID string, d domain.ProfileDetails) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "GormStore.UpdateProfileDetails")
	defer span.End()

	var out *domain.Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&profileModel{}).Where("user_id = ?", userID).Updates(map[string]any{
			"full_name":      d.FullName,
			"bank_name":      d.BankName,
			"account_number": d.AccountNumber,
			"account_name":   d.AccountName,
		})
		if res.Error != nil {
			return res.Error
		}
		var m profileModel
		if err := tx.Where("user_id = ?", userID).First(&m).Error; err != nil {
			return err
		}
		p := m.toDomain()
		out = &p
		return nil
	})
	if err != nil {
		return nil, mapErr(err, "profile", userID)
	}
	return out, nil
}

func (s *Store) ListProfiles(ctx context.Context, limit int) ([]domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "GormStore.ListProfiles")
	defer span.End()

	var rows []profileModel
	q := s.db.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, mapErr(err, "profiles", "")
	}
	return toDomainSlice(rows, (*profileModel).toDomain), nil
}

func (s *Store) ListProfilesByUserIDs(ctx context.Context, userIDs []string) ([]domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "GormStore.ListProfilesByUserIDs")
	defer span.End()

	if len(userIDs) == 0 {
		return []domain.Profile{}, nil
	}
	var rows []profileModel
	if err := s.db.WithContext(ctx).Where("user_id IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, mapErr(err, "profiles", "")
	}
	return toDomainSlice(rows, (*profileModel).toDomain), nil
}

// AdjustBalance issues UPDATE ... SET balance = balance + delta with the
// sufficiency guard in the WHERE clause and reads the row back. A
// referenced delta also inserts its journal row in the same transaction;
// the unique index on ledger_entries.reference turns a replay into
// *domain.ErrDuplicate and rolls the update back.
func (s *Store) AdjustBalance(ctx context.Context, userID string, delta domain.BalanceDelta) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "GormStore.AdjustBalance")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.Int64("delta.balance", delta.Balance),
		attribute.String("delta.reference", delta.Reference),
	)

	var out *domain.Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if delta.Reference != "" {
			var n int64
			if err := tx.Model(&ledgerEntryModel{}).Where("reference = ?", delta.Reference).Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return &domain.ErrDuplicate{Key: delta.Reference}
			}
		}

		q := tx.Model(&profileModel{}).Where("user_id = ?", userID)
		if delta.RequireSufficient {
			q = q.Where("balance + ? >= 0", delta.Balance)
		}
		res := q.Updates(map[string]any{
			"balance":           gorm.Expr("balance + ?", delta.Balance),
			"referral_earnings": gorm.Expr("referral_earnings + ?", delta.ReferralEarnings),
		})
		if res.Error != nil {
			return res.Error
		}

		var m profileModel
		if err := tx.Where("user_id = ?", userID).First(&m).Error; err != nil {
			return err
		}
		if res.RowsAffected == 0 {
			return &domain.ErrInsufficientFunds{Available: m.Balance, Required: -delta.Balance}
		}

		if delta.Reference != "" {
			entry := ledgerEntryModel{
				UserID:       userID,
				Kind:         string(delta.Kind),
				Amount:       delta.Balance,
				BalanceAfter: m.Balance,
				Reference:    delta.Reference,
			}
			if err := tx.Create(&entry).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return &domain.ErrDuplicate{Key: delta.Reference}
				}
				return err
			}
		}

		p := m.toDomain()
		out = &p
		return nil
	})
	if err != nil {
		return nil, mapErr(err, "profile", userID)
	}

	s.logger.Info("gormstore: balance adjusted",
		zap.String("user_id", userID),
		zap.Int64("delta", delta.Balance),
		zap.Int64("referral_delta", delta.ReferralEarnings),
		zap.String("reference", delta.Reference),
		zap.Int64("balance", out.Balance),
	)
	return out, nil
}

func (s *Store) IsAdmin(ctx context.Context, userID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "GormStore.IsAdmin")
	defer span.End()

	var n int64
	err := s.db.WithContext(ctx).Model(&userRoleModel{}).
		Where("user_id = ? AND role = ?", userID, "admin").
		Count(&n).Error
	if err != nil {
		return false, mapErr(err, "user_roles", userID)
	}
	return n > 0, nil
}
