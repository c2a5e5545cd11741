// Package service provides the business logic layer (use cases).
// Every balance change goes through Ledger, which turns it into a single
// atomic relative update at the store, journaled under a unique reference.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/infra/observability"
	"github.com/boddenberg/mining-ledger/internal/infra/resilience"
	"github.com/boddenberg/mining-ledger/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var ledgerTracer = otel.Tracer("service/ledger")

// Ledger applies settlements to profile balances. Every settlement carries
// a reference that the store journals in the same transaction, so a
// settlement can be retried after an ambiguous failure without paying twice.
type Ledger struct {
	profiles port.ProfileStore
	entries  port.EntryStore
	retry    resilience.Config
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewLedger creates a ledger over the given stores. retry bounds how often a
// settlement whose outcome is unknown is re-sent under the same reference.
func NewLedger(profiles port.ProfileStore, entries port.EntryStore, retry resilience.Config, metrics *observability.Metrics, logger *zap.Logger) *Ledger {
	return &Ledger{profiles: profiles, entries: entries, retry: retry, metrics: metrics, logger: logger}
}

// GetBalance returns the current spendable balance.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	ctx, span := ledgerTracer.Start(ctx, "Ledger.GetBalance")
	defer span.End()

	p, err := l.profiles.GetProfile(ctx, userID)
	if err != nil {
		return 0, err
	}
	return p.Balance, nil
}

// Credit adds amount to the balance. A reference that was already settled
// returns *domain.ErrDuplicate and moves nothing.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, kind domain.EntryKind, ref string) (*domain.Profile, error) {
	if amount <= 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "credit amount must be positive"}
	}
	return l.apply(ctx, userID, domain.BalanceDelta{Balance: amount, Kind: kind, Reference: ref})
}

// Debit subtracts amount, refusing with ErrInsufficientFunds rather than
// letting the balance go negative.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, kind domain.EntryKind, ref string) (*domain.Profile, error) {
	if amount <= 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "debit amount must be positive"}
	}
	return l.apply(ctx, userID, domain.BalanceDelta{Balance: -amount, RequireSufficient: true, Kind: kind, Reference: ref})
}

// CreditReferral adds amount to both balance and referral earnings in one delta.
func (l *Ledger) CreditReferral(ctx context.Context, userID string, amount int64, ref string) (*domain.Profile, error) {
	if amount <= 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "referral bonus must be positive"}
	}
	return l.apply(ctx, userID, domain.BalanceDelta{
		Balance:          amount,
		ReferralEarnings: amount,
		Kind:             domain.EntryReferralBonus,
		Reference:        ref,
	})
}

// Entries returns the user's journal, newest first.
func (l *Ledger) Entries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	ctx, span := ledgerTracer.Start(ctx, "Ledger.Entries")
	defer span.End()

	if limit <= 0 || limit > 200 {
		limit = 100
	}
	return l.entries.ListEntries(ctx, userID, limit)
}

// apply sends the delta, re-sending it under the same reference while the
// failure is transient. A duplicate on a re-send means an earlier attempt
// committed and only its response was lost.
func (l *Ledger) apply(ctx context.Context, userID string, delta domain.BalanceDelta) (*domain.Profile, error) {
	if delta.Reference == "" {
		return nil, &domain.ErrValidation{Field: "reference", Message: "settlement reference is required"}
	}

	ctx, span := ledgerTracer.Start(ctx, "Ledger.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("user.id", userID),
		attribute.String("entry.kind", string(delta.Kind)),
		attribute.String("entry.reference", delta.Reference),
		attribute.Int64("delta", delta.Balance),
	)

	kind := string(delta.Kind)
	start := time.Now()
	defer func() { l.metrics.RecordRequestDuration("ledger_"+kind, time.Since(start)) }()

	var (
		p        *domain.Profile
		attempts int
		replayed bool
	)
	err := resilience.RetryWithBackoff(ctx, l.retry, func() error {
		attempts++
		var err error
		p, err = l.profiles.AdjustBalance(ctx, userID, delta)
		if attempts > 1 && alreadySettled(err) {
			replayed = true
			return nil
		}
		if err != nil && resilience.Retryable(err) {
			l.logger.Warn("ledger: settlement outcome unknown, re-sending",
				zap.String("reference", delta.Reference),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
		}
		return err
	})
	span.SetAttributes(attribute.Int("attempts", attempts))

	switch {
	case err == nil:
	case alreadySettled(err):
		l.metrics.RecordSettlement(kind, observability.OutcomeDuplicate, delta.Balance)
		l.logger.Info("ledger: reference already settled",
			zap.String("user_id", userID),
			zap.String("kind", kind),
			zap.String("reference", delta.Reference),
		)
		return nil, err
	case isInsufficient(err):
		l.metrics.RecordSettlement(kind, observability.OutcomeRefused, delta.Balance)
		return nil, err
	default:
		l.metrics.RecordSettlement(kind, observability.OutcomeFailed, delta.Balance)
		return nil, err
	}
	l.metrics.RecordSettlement(kind, observability.OutcomeApplied, delta.Balance)

	if replayed {
		l.logger.Warn("ledger: settlement confirmed by replay",
			zap.String("user_id", userID),
			zap.String("reference", delta.Reference),
			zap.Int("attempts", attempts),
		)
		if p, err = l.profiles.GetProfile(ctx, userID); err != nil {
			return nil, err
		}
	}

	l.logger.Info("ledger: settlement applied",
		zap.String("user_id", userID),
		zap.String("kind", kind),
		zap.String("reference", delta.Reference),
		zap.Int64("amount", delta.Balance),
		zap.Int64("balance", p.Balance),
	)
	return p, nil
}

// compensate reverses a settlement with a relative credit journaled as kind
// under ref. A ref that is already settled counts as compensated.
func (l *Ledger) compensate(ctx context.Context, userID string, amount int64, kind domain.EntryKind, ref string) error {
	_, err := l.apply(ctx, userID, domain.BalanceDelta{Balance: amount, Kind: kind, Reference: ref})
	if err != nil && !alreadySettled(err) {
		l.metrics.RecordSettlement(string(domain.EntryCompensation), observability.OutcomeFailed, amount)
		l.logger.Error("ledger: compensation failed, manual reconciliation required",
			zap.String("user_id", userID),
			zap.Int64("amount", amount),
			zap.String("reference", ref),
			zap.Error(err),
		)
		return err
	}
	l.metrics.RecordSettlement(string(domain.EntryCompensation), observability.OutcomeCompensated, amount)
	return nil
}

// alreadySettled reports whether err says the reference is already in the
// journal, i.e. the money moved on an earlier call.
func alreadySettled(err error) bool {
	var dup *domain.ErrDuplicate
	return errors.As(err, &dup)
}

// refused reports whether err proves the store did not apply a write.
// Any other error, such as a timeout, leaves the outcome unknown and the
// caller must keep whatever it claimed.
func refused(err error) bool {
	var (
		notFound     *domain.ErrNotFound
		validation   *domain.ErrValidation
		insufficient *domain.ErrInsufficientFunds
		conflict     *domain.ErrConflict
		open         *domain.ErrCircuitOpen
	)
	return errors.As(err, &notFound) ||
		errors.As(err, &validation) ||
		errors.As(err, &insufficient) ||
		errors.As(err, &conflict) ||
		errors.As(err, &open)
}

func isInsufficient(err error) bool {
	var fe *domain.ErrInsufficientFunds
	return errors.As(err, &fe)
}
