package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var depositTracer = otel.Tracer("service/deposit")

const (
	maxTransactionIDLen = 100
	maxNoteLen          = 500
	listLimit           = 100
)

// DepositService runs the deposit workflow: submit, then admin approve/reject.
type DepositService struct {
	store      port.DepositStore
	ledger     *Ledger
	minDeposit int64
	logger     *zap.Logger
}

// NewDepositService creates a deposit service.
func NewDepositService(store port.DepositStore, ledger *Ledger, minDeposit int64, logger *zap.Logger) *DepositService {
	return &DepositService{store: store, ledger: ledger, minDeposit: minDeposit, logger: logger}
}

// Submit records a pending deposit claim. No balance change.
func (s *DepositService) Submit(ctx context.Context, userID string, req domain.DepositRequest) (*domain.Deposit, error) {
	ctx, span := depositTracer.Start(ctx, "DepositService.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID), attribute.Int64("amount", req.Amount))

	if req.Amount < s.minDeposit {
		return nil, &domain.ErrValidation{Field: "amount", Message: fmt.Sprintf("minimum deposit is %d", s.minDeposit)}
	}
	txID := truncate(req.TransactionID, maxTransactionIDLen)
	if txID == "" {
		return nil, &domain.ErrValidation{Field: "transaction_id", Message: "transaction reference is required"}
	}

	d, err := s.store.CreateDeposit(ctx, &domain.Deposit{
		UserID:        userID,
		Amount:        req.Amount,
		TransactionID: txID,
		ProofNote:     truncate(req.Note, maxNoteLen),
		Status:        domain.RequestPending,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("deposit submitted",
		zap.String("deposit_id", d.ID),
		zap.String("user_id", userID),
		zap.Int64("amount", d.Amount),
	)
	return d, nil
}

// ListMine returns the caller's deposits, newest first.
func (s *DepositService) ListMine(ctx context.Context, userID string) ([]domain.Deposit, error) {
	ctx, span := depositTracer.Start(ctx, "DepositService.ListMine")
	defer span.End()

	return s.store.ListDeposits(ctx, domain.RequestFilter{UserID: userID, Limit: listLimit})
}

// Approve claims the deposit (pending -> approved) and then credits the
// owner under the reference deposit:<id>, which the journal accepts once.
// The claim is released only when the store refuses the credit. When the
// outcome is unknown the deposit stays approved and approving it again
// re-sends the same credit.
func (s *DepositService) Approve(ctx context.Context, id string) (*domain.Deposit, error) {
	ctx, span := depositTracer.Start(ctx, "DepositService.Approve")
	defer span.End()
	span.SetAttributes(attribute.String("deposit.id", id))

	d, err := s.store.TransitionDeposit(ctx, id, domain.RequestPending, domain.RequestApproved)
	if err != nil {
		return s.reconcile(ctx, id, err)
	}

	if err := s.credit(ctx, d); err != nil && !alreadySettled(err) {
		if !refused(err) {
			s.logger.Error("deposit credit outcome unknown, leaving approved",
				zap.String("deposit_id", d.ID),
				zap.String("reference", depositRef(d.ID)),
				zap.Error(err),
			)
			return nil, err
		}
		return nil, s.release(ctx, d, err)
	}

	s.logger.Info("deposit approved",
		zap.String("deposit_id", d.ID),
		zap.String("user_id", d.UserID),
		zap.Int64("amount", d.Amount),
	)
	return d, nil
}

// reconcile handles an approval whose claim failed. An approved deposit gets
// its credit re-sent: a duplicate reference means it was paid and the call
// is a conflict, while a credit applied now completes the earlier approval.
func (s *DepositService) reconcile(ctx context.Context, id string, claimErr error) (*domain.Deposit, error) {
	var conflict *domain.ErrConflict
	if !errors.As(claimErr, &conflict) {
		return nil, claimErr
	}
	d, err := s.store.GetDeposit(ctx, id)
	if err != nil || d.Status != domain.RequestApproved {
		return nil, claimErr
	}

	err = s.credit(ctx, d)
	switch {
	case err == nil:
		s.logger.Warn("deposit credit completed on re-approval",
			zap.String("deposit_id", d.ID),
			zap.Int64("amount", d.Amount),
		)
		return d, nil
	case alreadySettled(err):
		return nil, &domain.ErrConflict{Message: fmt.Sprintf("deposit %s is already approved", id)}
	case refused(err):
		return nil, s.release(ctx, d, err)
	default:
		return nil, err
	}
}

func (s *DepositService) credit(ctx context.Context, d *domain.Deposit) error {
	_, err := s.ledger.Credit(ctx, d.UserID, d.Amount, domain.EntryDeposit, depositRef(d.ID))
	return err
}

// release hands a refused approval back to pending and returns cause.
func (s *DepositService) release(ctx context.Context, d *domain.Deposit, cause error) error {
	s.logger.Warn("deposit credit refused, releasing claim",
		zap.String("deposit_id", d.ID),
		zap.Error(cause),
	)
	if _, err := s.store.TransitionDeposit(ctx, d.ID, domain.RequestApproved, domain.RequestPending); err != nil {
		s.logger.Error("deposit claim release failed, manual reconciliation required",
			zap.String("deposit_id", d.ID),
			zap.Error(err),
		)
		return errors.Join(cause, err)
	}
	return cause
}

func depositRef(id string) string { return "deposit:" + id }

// Reject moves pending -> rejected with no ledger effect.
func (s *DepositService) Reject(ctx context.Context, id string) (*domain.Deposit, error) {
	ctx, span := depositTracer.Start(ctx, "DepositService.Reject")
	defer span.End()

	d, err := s.store.TransitionDeposit(ctx, id, domain.RequestPending, domain.RequestRejected)
	if err != nil {
		return nil, err
	}
	s.logger.Info("deposit rejected", zap.String("deposit_id", d.ID))
	return d, nil
}

// normalizeStatus parses an optional status query value.
func normalizeStatus(raw string) (domain.RequestStatus, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "all" {
		return "", nil
	}
	return domain.ParseRequestStatus(raw)
}
