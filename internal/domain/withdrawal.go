package domain

import "time"

// Withdrawal is a debit request. Bank details are snapshotted from the
// profile at submission so later profile edits don't redirect it.
type Withdrawal struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Amount        int64         `json:"amount"`
	BankName      string        `json:"bank_name"`
	AccountNumber string        `json:"account_number"`
	AccountName   string        `json:"account_name"`
	Status        RequestStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// WithdrawalRequest is the body of POST /v1/withdrawals.
type WithdrawalRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

// WithdrawalView is a withdrawal enriched with its owner's display data.
type WithdrawalView struct {
	Withdrawal
	Owner *ProfileSummary `json:"profile"`
}
