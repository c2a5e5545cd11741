package domain

import "time"

// Deposit is a user-submitted funding claim awaiting admin review.
type Deposit struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Amount        int64         `json:"amount"`
	TransactionID string        `json:"transaction_id"`
	ProofNote     string        `json:"proof_note,omitempty"`
	Status        RequestStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
}

// DepositRequest is the body of POST /v1/deposits.
type DepositRequest struct {
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	TransactionID string `json:"transaction_id" validate:"required"`
	Note          string `json:"note,omitempty"`
}

// DepositView is a deposit enriched with its owner's display data.
type DepositView struct {
	Deposit
	Owner *ProfileSummary `json:"profile"`
}

// RequestFilter narrows deposit and withdrawal listings.
type RequestFilter struct {
	UserID string
	Status RequestStatus
	Limit  int
}
