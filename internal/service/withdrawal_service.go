package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var withdrawalTracer = otel.Tracer("service/withdrawal")

// WithdrawalService runs the withdrawal workflow.
type WithdrawalService struct {
	store         port.WithdrawalStore
	profiles      port.ProfileStore
	ledger        *Ledger
	minWithdrawal int64
	logger        *zap.Logger
}

// NewWithdrawalService creates a withdrawal service.
func NewWithdrawalService(store port.WithdrawalStore, profiles port.ProfileStore, ledger *Ledger, minWithdrawal int64, logger *zap.Logger) *WithdrawalService {
	return &WithdrawalService{store: store, profiles: profiles, ledger: ledger, minWithdrawal: minWithdrawal, logger: logger}
}

// Submit records a pending withdrawal with the profile's bank details
// snapshotted onto it. The balance is checked here but only debited on
// approval.
func (s *WithdrawalService) Submit(ctx context.Context, userID string, req domain.WithdrawalRequest) (*domain.Withdrawal, error) {
	ctx, span := withdrawalTracer.Start(ctx, "WithdrawalService.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.Int64("amount", req.Amount))

	if req.Amount < s.minWithdrawal {
		return nil, &domain.ErrValidation{Field: "amount", Message: fmt.Sprintf("minimum withdrawal is %d", s.minWithdrawal)}
	}

	p, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !p.HasBankDetails() {
		return nil, &domain.ErrValidation{Field: "bank_details", Message: "add your bank details before withdrawing"}
	}
	if req.Amount > p.Balance {
		return nil, &domain.ErrInsufficientFunds{Available: p.Balance, Required: req.Amount}
	}

	w, err := s.store.CreateWithdrawal(ctx, &domain.Withdrawal{
		UserID:        userID,
		Amount:        req.Amount,
		BankName:      p.BankName,
		AccountNumber: p.AccountNumber,
		AccountName:   p.AccountName,
		Status:        domain.RequestPending,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("withdrawal submitted",
		zap.String("withdrawal_id", w.ID),
		zap.String("user_id", userID),
		zap.Int64("amount", w.Amount),
	)
	return w, nil
}

// ListMine returns the caller's withdrawals, newest first.
func (s *WithdrawalService) ListMine(ctx context.Context, userID string) ([]domain.Withdrawal, error) {
	ctx, span := withdrawalTracer.Start(ctx, "WithdrawalService.ListMine")
	defer span.End()

	return s.store.ListWithdrawals(ctx, domain.RequestFilter{UserID: userID, Limit: listLimit})
}

// Approve re-checks the balance, claims the request and debits the owner
// with a guarded debit under the reference withdrawal:<id>. When the store
// refuses the debit the claim is released and nothing changes. When the
// outcome is unknown the request stays approved and approving it again
// re-sends the same debit.
func (s *WithdrawalService) Approve(ctx context.Context, id string) (*domain.Withdrawal, error) {
	ctx, span := withdrawalTracer.Start(ctx, "WithdrawalService.Approve")
	defer span.End()
	span.SetAttributes(attribute.String("withdrawal.id", id))

	w, err := s.store.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, err
	}
	switch w.Status {
	case domain.RequestPending:
	case domain.RequestApproved:
		return s.reconcile(ctx, w)
	default:
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("withdrawal %s is already %s", id, w.Status)}
	}

	balance, err := s.ledger.GetBalance(ctx, w.UserID)
	if err != nil {
		return nil, err
	}
	if balance < w.Amount {
		return nil, &domain.ErrInsufficientFunds{Available: balance, Required: w.Amount}
	}

	claimed, err := s.store.TransitionWithdrawal(ctx, id, domain.RequestPending, domain.RequestApproved)
	if err != nil {
		return nil, err
	}

	if err := s.debit(ctx, claimed); err != nil && !alreadySettled(err) {
		if !refused(err) {
			s.logger.Error("withdrawal debit outcome unknown, leaving approved",
				zap.String("withdrawal_id", claimed.ID),
				zap.String("reference", withdrawalRef(claimed.ID)),
				zap.Error(err),
			)
			return nil, err
		}
		return nil, s.release(ctx, claimed, err)
	}

	s.logger.Info("withdrawal approved",
		zap.String("withdrawal_id", claimed.ID),
		zap.String("user_id", claimed.UserID),
		zap.Int64("amount", claimed.Amount),
	)
	return claimed, nil
}

// reconcile re-sends the debit of an approved withdrawal. A duplicate
// reference means it was paid out and the call is a conflict.
func (s *WithdrawalService) reconcile(ctx context.Context, w *domain.Withdrawal) (*domain.Withdrawal, error) {
	err := s.debit(ctx, w)
	switch {
	case err == nil:
		s.logger.Warn("withdrawal debit completed on re-approval",
			zap.String("withdrawal_id", w.ID),
			zap.Int64("amount", w.Amount),
		)
		return w, nil
	case alreadySettled(err):
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("withdrawal %s is already approved", w.ID)}
	case refused(err):
		return nil, s.release(ctx, w, err)
	default:
		return nil, err
	}
}

func (s *WithdrawalService) debit(ctx context.Context, w *domain.Withdrawal) error {
	_, err := s.ledger.Debit(ctx, w.UserID, w.Amount, domain.EntryWithdrawal, withdrawalRef(w.ID))
	return err
}

// release hands a refused approval back to pending and returns cause.
func (s *WithdrawalService) release(ctx context.Context, w *domain.Withdrawal, cause error) error {
	s.logger.Warn("withdrawal debit refused, releasing claim",
		zap.String("withdrawal_id", w.ID),
		zap.Error(cause),
	)
	if _, err := s.store.TransitionWithdrawal(ctx, w.ID, domain.RequestApproved, domain.RequestPending); err != nil {
		s.logger.Error("withdrawal claim release failed, manual reconciliation required",
			zap.String("withdrawal_id", w.ID),
			zap.Error(err),
		)
		return errors.Join(cause, err)
	}
	return cause
}

func withdrawalRef(id string) string { return "withdrawal:" + id }

// Reject moves pending -> rejected with no ledger effect.
func (s *WithdrawalService) Reject(ctx context.Context, id string) (*domain.Withdrawal, error) {
	ctx, span := withdrawalTracer.Start(ctx, "WithdrawalService.Reject")
	defer span.End()

	w, err := s.store.TransitionWithdrawal(ctx, id, domain.RequestPending, domain.RequestRejected)
	if err != nil {
		return nil, err
	}
	s.logger.Info("withdrawal rejected", zap.String("withdrawal_id", w.ID))
	return w, nil
}
