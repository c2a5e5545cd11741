package domain

import "fmt"

// RequestStatus is the lifecycle of an admin-gated request (deposit or withdrawal).
// An admin decision moves pending -> approved or pending -> rejected. An
// approval whose settlement the store refused is released approved -> pending.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// ParseRequestStatus validates a status coming from storage or a query string.
func ParseRequestStatus(s string) (RequestStatus, error) {
	switch st := RequestStatus(s); st {
	case RequestPending, RequestApproved, RequestRejected:
		return st, nil
	default:
		return "", &ErrValidation{Field: "status", Message: fmt.Sprintf("unknown request status %q", s)}
	}
}

// CanTransitionTo reports whether s -> next is a legal transition,
// including the approved -> pending release.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case RequestPending:
		return next == RequestApproved || next == RequestRejected
	case RequestApproved:
		return next == RequestPending
	default:
		return false
	}
}

// CheckTransition returns *ErrValidation when from -> to is not in the
// transition table. Stores call it before the conditional update.
func CheckTransition(from, to RequestStatus) error {
	if !from.CanTransitionTo(to) {
		return &ErrValidation{Field: "status", Message: fmt.Sprintf("illegal transition %s -> %s", from, to)}
	}
	return nil
}

// InvestmentStatus is the lifecycle of an investment: active -> completed.
type InvestmentStatus string

const (
	InvestmentActive    InvestmentStatus = "active"
	InvestmentCompleted InvestmentStatus = "completed"
)

// ParseInvestmentStatus validates an investment status.
func ParseInvestmentStatus(s string) (InvestmentStatus, error) {
	switch st := InvestmentStatus(s); st {
	case InvestmentActive, InvestmentCompleted:
		return st, nil
	default:
		return "", &ErrValidation{Field: "status", Message: fmt.Sprintf("unknown investment status %q", s)}
	}
}
