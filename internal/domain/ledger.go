package domain

import "time"

// EntryKind classifies a settlement in the ledger journal.
type EntryKind string

const (
	EntryDeposit            EntryKind = "deposit"
	EntryWithdrawal         EntryKind = "withdrawal"
	EntryInvestmentPurchase EntryKind = "investment_purchase"
	EntryInvestmentRefund   EntryKind = "investment_refund"
	EntryRoiAccrual         EntryKind = "roi_accrual"
	EntryRoiSettlement      EntryKind = "roi_settlement"
	EntryReferralBonus      EntryKind = "referral_bonus"
	EntryCompensation       EntryKind = "compensation"
)

// LedgerEntry records one balance movement. Amount is signed.
type LedgerEntry struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Kind         EntryKind `json:"kind"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	Reference    string    `json:"reference,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AdminStats is returned by GET /v1/admin/stats.
type AdminStats struct {
	PendingDeposits    int `json:"pending_deposits"`
	PendingWithdrawals int `json:"pending_withdrawals"`
	ActiveInvestments  int `json:"active_investments"`
	Users              int `json:"users"`
}
