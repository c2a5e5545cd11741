package domain

import "time"

// Investment is a purchased product accruing ROI until RoiPaid reaches Roi.
type Investment struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	ProductID     string           `json:"product_id"`
	Amount        int64            `json:"amount"`
	Roi           int64            `json:"roi"`
	RoiPaid       int64            `json:"roi_paid"`
	Status        InvestmentStatus `json:"status"`
	InvestedAt    time.Time        `json:"invested_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	LastAccruedAt *time.Time       `json:"last_accrued_at,omitempty"`

	// DurationDays is joined from the product for the accrual job.
	DurationDays int `json:"-"`
}

// Remaining is the ROI still owed.
func (i *Investment) Remaining() int64 {
	return i.Roi - i.RoiPaid
}

// AccruedIn reports whether the investment was already credited for the
// period starting at periodStart.
func (i *Investment) AccruedIn(periodStart time.Time) bool {
	return i.LastAccruedAt != nil && !i.LastAccruedAt.Before(periodStart)
}

// InvestRequest is the body of POST /v1/investments.
type InvestRequest struct {
	ProductID string `json:"product_id" validate:"required"`
}

// InvestmentFilter narrows investment listings.
type InvestmentFilter struct {
	UserID string
	Status InvestmentStatus
	Limit  int
}

// InvestmentProgress is an optimistic update of an investment. It applies
// only while the stored roi_paid and status still equal the Expected values.
type InvestmentProgress struct {
	ID              string
	ExpectedRoiPaid int64
	ExpectedStatus  InvestmentStatus
	RoiPaid         int64
	Status          InvestmentStatus
	LastAccruedAt   *time.Time
	CompletedAt     *time.Time
}

// InvestmentView is an investment enriched for listings.
type InvestmentView struct {
	Investment
	ProductName string          `json:"product_name,omitempty"`
	Owner       *ProfileSummary `json:"profile,omitempty"`
}

// AccrualSummary is the result of one accrual job run.
type AccrualSummary struct {
	Period    time.Time `json:"period"`
	Processed int       `json:"processed"`
	Completed int       `json:"completed"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
}
