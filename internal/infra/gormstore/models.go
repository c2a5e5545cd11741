package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/boddenberg/mining-ledger/internal/domain"
)

// Base generates a UUID primary key on insert.
type Base struct {
	ID string `gorm:"type:uuid;primaryKey"`
}

func (b *Base) BeforeCreate(*gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

type profileModel struct {
	Base
	UserID           string  `gorm:"type:uuid;uniqueIndex;not null"`
	Phone            string  `gorm:"uniqueIndex;not null"`
	FullName         string  `gorm:"not null"`
	Balance          int64   `gorm:"not null;default:0;check:balance >= 0"`
	ReferralCode     string  `gorm:"uniqueIndex;not null"`
	ReferredBy       *string `gorm:"type:uuid"`
	ReferralEarnings int64   `gorm:"not null;default:0"`
	BankName         string
	AccountNumber    string
	AccountName      string
	CreatedAt        time.Time
}

func (profileModel) TableName() string { return "profiles" }

func (m *profileModel) toDomain() domain.Profile {
	return domain.Profile{
		ID:               m.ID,
		UserID:           m.UserID,
		Phone:            m.Phone,
		FullName:         m.FullName,
		Balance:          m.Balance,
		ReferralCode:     m.ReferralCode,
		ReferredBy:       m.ReferredBy,
		ReferralEarnings: m.ReferralEarnings,
		BankName:         m.BankName,
		AccountNumber:    m.AccountNumber,
		AccountName:      m.AccountName,
		CreatedAt:        m.CreatedAt,
	}
}

type userRoleModel struct {
	UserID string `gorm:"type:uuid;primaryKey"`
	Role   string `gorm:"primaryKey"`
}

func (userRoleModel) TableName() string { return "user_roles" }

type productModel struct {
	Base
	Name         string `gorm:"not null"`
	Price        int64  `gorm:"not null"`
	Roi          int64  `gorm:"not null"`
	DurationDays int    `gorm:"not null;default:30"`
	IsActive     bool   `gorm:"not null;default:true"`
	SortOrder    int    `gorm:"not null;default:0"`
}

func (productModel) TableName() string { return "products" }

func (m *productModel) toDomain() domain.Product {
	return domain.Product{
		ID:           m.ID,
		Name:         m.Name,
		Price:        m.Price,
		Roi:          m.Roi,
		DurationDays: m.DurationDays,
		IsActive:     m.IsActive,
		SortOrder:    m.SortOrder,
	}
}

type depositModel struct {
	Base
	UserID        string `gorm:"type:uuid;index;not null"`
	Amount        int64  `gorm:"not null"`
	TransactionID string `gorm:"not null"`
	ProofNote     string
	Status        string `gorm:"index;not null;default:pending"`
	CreatedAt     time.Time
}

func (depositModel) TableName() string { return "deposits" }

func (m *depositModel) toDomain() domain.Deposit {
	return domain.Deposit{
		ID:            m.ID,
		UserID:        m.UserID,
		Amount:        m.Amount,
		TransactionID: m.TransactionID,
		ProofNote:     m.ProofNote,
		Status:        domain.RequestStatus(m.Status),
		CreatedAt:     m.CreatedAt,
	}
}

type withdrawalModel struct {
	Base
	UserID        string `gorm:"type:uuid;index;not null"`
	Amount        int64  `gorm:"not null"`
	BankName      string `gorm:"not null"`
	AccountNumber string `gorm:"not null"`
	AccountName   string `gorm:"not null"`
	Status        string `gorm:"index;not null;default:pending"`
	CreatedAt     time.Time
}

func (withdrawalModel) TableName() string { return "withdrawals" }

func (m *withdrawalModel) toDomain() domain.Withdrawal {
	return domain.Withdrawal{
		ID:            m.ID,
		UserID:        m.UserID,
		Amount:        m.Amount,
		BankName:      m.BankName,
		AccountNumber: m.AccountNumber,
		AccountName:   m.AccountName,
		Status:        domain.RequestStatus(m.Status),
		CreatedAt:     m.CreatedAt,
	}
}

type investmentModel struct {
	Base
	UserID        string `gorm:"type:uuid;index;not null"`
	ProductID     string `gorm:"type:uuid;not null"`
	Amount        int64  `gorm:"not null"`
	Roi           int64  `gorm:"not null"`
	RoiPaid       int64  `gorm:"not null;default:0"`
	Status        string `gorm:"index;not null;default:active"`
	InvestedAt    time.Time
	CompletedAt   *time.Time
	LastAccruedAt *time.Time
}

func (investmentModel) TableName() string { return "investments" }

func (m *investmentModel) toDomain() domain.Investment {
	return domain.Investment{
		ID:            m.ID,
		UserID:        m.UserID,
		ProductID:     m.ProductID,
		Amount:        m.Amount,
		Roi:           m.Roi,
		RoiPaid:       m.RoiPaid,
		Status:        domain.InvestmentStatus(m.Status),
		InvestedAt:    m.InvestedAt,
		CompletedAt:   m.CompletedAt,
		LastAccruedAt: m.LastAccruedAt,
	}
}

type ledgerEntryModel struct {
	Base
	UserID       string `gorm:"type:uuid;index;not null"`
	Kind         string `gorm:"not null"`
	Amount       int64  `gorm:"not null"`
	BalanceAfter int64  `gorm:"not null"`
	Reference    string `gorm:"uniqueIndex;not null"`
	CreatedAt    time.Time
}

func (ledgerEntryModel) TableName() string { return "ledger_entries" }

func (m *ledgerEntryModel) toDomain() domain.LedgerEntry {
	return domain.LedgerEntry{
		ID:           m.ID,
		UserID:       m.UserID,
		Kind:         domain.EntryKind(m.Kind),
		Amount:       m.Amount,
		BalanceAfter: m.BalanceAfter,
		Reference:    m.Reference,
		CreatedAt:    m.CreatedAt,
	}
}

// Models lists every table for AutoMigrate in tests and local runs.
func Models() []any {
	return []any{
		&profileModel{},
		&userRoleModel{},
		&productModel{},
		&depositModel{},
		&withdrawalModel{},
		&investmentModel{},
		&ledgerEntryModel{},
	}
}

func toDomainSlice[M any, D any](rows []M, conv func(*M) D) []D {
	out := make([]D, 0, len(rows))
	for i := range rows {
		out = append(out, conv(&rows[i]))
	}
	return out
}
