// Package domain defines the ledger entities, their closed status variants
// and the typed errors shared by services, stores and handlers.
package domain

import "time"

// ============================================================
// Profile (the ledger)
// ============================================================

// Profile is the per-user balance record. Balance is the only spendable-funds
// value in the system and is mutated exclusively through relative deltas.
type Profile struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	Phone            string    `json:"phone"`
	FullName         string    `json:"full_name"`
	Balance          int64     `json:"balance"`
	ReferralCode     string    `json:"referral_code"`
	ReferredBy       *string   `json:"referred_by,omitempty"`
	ReferralEarnings int64     `json:"referral_earnings"`
	BankName         string    `json:"bank_name,omitempty"`
	AccountNumber    string    `json:"account_number,omitempty"`
	AccountName      string    `json:"account_name,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// HasBankDetails reports whether the profile can receive a withdrawal.
func (p *Profile) HasBankDetails() bool {
	return p.BankName != "" && p.AccountNumber != "" && p.AccountName != ""
}

// ProfileSummary is the owner display data attached to admin listings.
type ProfileSummary struct {
	UserID   string `json:"user_id"`
	Phone    string `json:"phone"`
	FullName string `json:"full_name"`
}

// Summary returns the display fields of the profile.
func (p *Profile) Summary() *ProfileSummary {
	return &ProfileSummary{UserID: p.UserID, Phone: p.Phone, FullName: p.FullName}
}

// BalanceDelta is a relative change applied atomically by the store.
// RequireSufficient makes the store refuse the change if it would leave
// the balance negative. A non-empty Reference journals the change as Kind
// in the same transaction; a reference that is already journaled makes the
// store return *ErrDuplicate and change nothing.
type BalanceDelta struct {
	Balance           int64
	ReferralEarnings  int64
	RequireSufficient bool
	Kind              EntryKind
	Reference         string
}

// ProfileDetails are the user-editable profile fields.
type ProfileDetails struct {
	FullName      string `json:"full_name" validate:"omitempty,max=200"`
	BankName      string `json:"bank_name" validate:"omitempty,max=200"`
	AccountNumber string `json:"account_number" validate:"omitempty,max=40"`
	AccountName   string `json:"account_name" validate:"omitempty,max=200"`
}

// RegisterRequest is the body of POST /v1/profile.
type RegisterRequest struct {
	Phone        string `json:"phone" validate:"required"`
	FullName     string `json:"full_name" validate:"required"`
	ReferralCode string `json:"referral_code,omitempty"`
}
