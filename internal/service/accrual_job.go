package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/boddenberg/mining-ledger/internal/domain"
	"github.com/boddenberg/mining-ledger/internal/infra/observability"
	"github.com/boddenberg/mining-ledger/internal/infra/resilience"
	"github.com/boddenberg/mining-ledger/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var accrualTracer = otel.Tracer("service/accrual")

// AccrualLockKey is the lease held for the duration of one run.
const AccrualLockKey = "accrual:daily-roi"

// AccrualConfig tunes the accrual job.
type AccrualConfig struct {
	// Period is the accrual cadence. An investment is credited at most once
	// per period. Zero disables the guard: every run credits every active
	// investment.
	Period              time.Duration
	LockTTL             time.Duration
	DefaultDurationDays int
	// MinDailyShare is the floor applied to the daily share. Zero keeps
	// the plain floor(roi / duration).
	MinDailyShare  int64
	MaxConcurrency int
}

// AccrualJob credits the daily ROI share of every active investment.
type AccrualJob struct {
	store    port.InvestmentStore
	ledger   *Ledger
	locker   port.Locker
	cfg      AccrualConfig
	bulkhead *resilience.Bulkhead
	metrics  *observability.Metrics
	now      func() time.Time
	logger   *zap.Logger
}

// NewAccrualJob creates the accrual job.
func NewAccrualJob(store port.InvestmentStore, ledger *Ledger, locker port.Locker, cfg AccrualConfig, metrics *observability.Metrics, logger *zap.Logger) *AccrualJob {
	if cfg.DefaultDurationDays <= 0 {
		cfg.DefaultDurationDays = 30
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 15 * time.Minute
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 1
	}
	return &AccrualJob{
		store:    store,
		ledger:   ledger,
		locker:   locker,
		cfg:      cfg,
		bulkhead: resilience.NewBulkhead(cfg.MaxConcurrency),
		metrics:  metrics,
		now:      time.Now,
		logger:   logger,
	}
}

// DailyShare is floor(roi / duration) raised to minShare. Deployments run
// with minShare 1 so an ROI smaller than its duration still pays out daily
// instead of waiting for a manual completion; minShare 0 gives the plain floor.
func DailyShare(roi int64, durationDays, defaultDays int, minShare int64) int64 {
	if durationDays <= 0 {
		durationDays = defaultDays
	}
	daily := roi / int64(durationDays)
	if daily < minShare {
		daily = minShare
	}
	return daily
}

type accrualOutcome int

const (
	outcomeProcessed accrualOutcome = iota
	outcomeCompleted
	outcomeClosed
	outcomeSkipped
	outcomeFailed
)

// Run processes every active investment once. A concurrent run holding the
// lease makes this one return ErrConflict without touching anything.
// Per-investment failures are logged and counted; they do not fail the run.
func (j *AccrualJob) Run(ctx context.Context) (*domain.AccrualSummary, error) {
	ctx, span := accrualTracer.Start(ctx, "AccrualJob.Run")
	defer span.End()

	start := time.Now()
	release, ok, err := j.locker.Acquire(ctx, AccrualLockKey, j.cfg.LockTTL)
	if err != nil {
		j.metrics.RecordAccrualRun("error", 0, 0, 0, 0, 0)
		return nil, fmt.Errorf("acquiring accrual lease: %w", err)
	}
	if !ok {
		j.metrics.RecordAccrualRun("locked", 0, 0, 0, 0, 0)
		return nil, &domain.ErrConflict{Message: "accrual run already in progress"}
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			j.logger.Warn("accrual lease release failed", zap.Error(err))
		}
	}()

	now := j.now().UTC()
	period := now
	// runKey names this run's credits in the journal. With a period it is
	// the period start, so a credit re-sent in the same period is journaled
	// once; without one every run is distinct.
	runKey := "run-" + uuid.NewString()
	if j.cfg.Period > 0 {
		period = now.Truncate(j.cfg.Period)
		runKey = period.Format(time.RFC3339Nano)
	}
	summary := &domain.AccrualSummary{Period: period}

	active, err := j.store.ListActiveInvestments(ctx)
	if err != nil {
		j.metrics.RecordAccrualRun("error", time.Since(start), 0, 0, 0, 0)
		return nil, err
	}
	span.SetAttributes(attribute.Int("investments.active", len(active)))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	tally := func(o accrualOutcome) {
		mu.Lock()
		defer mu.Unlock()
		switch o {
		case outcomeProcessed:
			summary.Processed++
		case outcomeCompleted:
			summary.Processed++
			summary.Completed++
		case outcomeClosed:
			summary.Completed++
		case outcomeSkipped:
			summary.Skipped++
		case outcomeFailed:
			summary.Failed++
		}
	}

	for i := range active {
		if err := j.bulkhead.Acquire(ctx); err != nil {
			tally(outcomeFailed)
			continue
		}
		wg.Add(1)
		go func(inv domain.Investment) {
			defer wg.Done()
			defer j.bulkhead.Release()
			tally(j.accrue(ctx, &inv, period, runKey))
		}(active[i])
	}
	wg.Wait()

	j.metrics.RecordAccrualRun("ok", time.Since(start), summary.Processed, summary.Completed, summary.Skipped, summary.Failed)
	j.logger.Info("accrual run finished",
		zap.Time("period", summary.Period),
		zap.Int("processed", summary.Processed),
		zap.Int("completed", summary.Completed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", time.Since(start)),
	)
	return summary, nil
}

func (j *AccrualJob) accrue(ctx context.Context, inv *domain.Investment, period time.Time, runKey string) accrualOutcome {
	log := j.logger.With(zap.String("investment_id", inv.ID), zap.String("user_id", inv.UserID))

	remaining := inv.Remaining()
	if remaining <= 0 {
		done := j.now().UTC()
		_, err := j.store.UpdateInvestmentProgress(ctx, domain.InvestmentProgress{
			ID:              inv.ID,
			ExpectedRoiPaid: inv.RoiPaid,
			ExpectedStatus:  inv.Status,
			RoiPaid:         inv.RoiPaid,
			Status:          domain.InvestmentCompleted,
			LastAccruedAt:   inv.LastAccruedAt,
			CompletedAt:     &done,
		})
		if err != nil {
			log.Warn("accrual: closing fully paid investment failed", zap.Error(err))
			return outcomeFailed
		}
		return outcomeClosed
	}

	if j.cfg.Period > 0 && inv.AccruedIn(period) {
		return outcomeSkipped
	}

	credit := DailyShare(inv.Roi, inv.DurationDays, j.cfg.DefaultDurationDays, j.cfg.MinDailyShare)
	if credit > remaining {
		credit = remaining
	}
	if credit <= 0 {
		return outcomeSkipped
	}
	paid := inv.RoiPaid + credit
	stamp := period

	progress := domain.InvestmentProgress{
		ID:              inv.ID,
		ExpectedRoiPaid: inv.RoiPaid,
		ExpectedStatus:  inv.Status,
		RoiPaid:         paid,
		Status:          domain.InvestmentActive,
		LastAccruedAt:   &stamp,
	}
	if paid >= inv.Roi {
		done := j.now().UTC()
		progress.Status = domain.InvestmentCompleted
		progress.CompletedAt = &done
	}

	claimed, err := j.store.UpdateInvestmentProgress(ctx, progress)
	if err != nil {
		var conflict *domain.ErrConflict
		if errors.As(err, &conflict) {
			log.Info("accrual: investment changed concurrently, skipping", zap.Error(err))
			return outcomeSkipped
		}
		log.Error("accrual: progress update failed", zap.Error(err))
		return outcomeFailed
	}

	ref := investmentRef(inv.ID, runKey)
	_, err = j.ledger.Credit(ctx, inv.UserID, credit, domain.EntryRoiAccrual, ref)
	switch {
	case err == nil, alreadySettled(err):
	case refused(err):
		log.Warn("accrual: credit refused, reverting progress", zap.Int64("credit", credit), zap.Error(err))
		if rerr := revertProgress(ctx, j.store, claimed, inv); rerr != nil {
			log.Error("accrual: revert failed, manual reconciliation required", zap.Error(rerr))
		}
		return outcomeFailed
	default:
		log.Error("accrual: credit outcome unknown, keeping progress, manual reconciliation required",
			zap.String("reference", ref),
			zap.Int64("credit", credit),
			zap.Error(err),
		)
		return outcomeFailed
	}

	if claimed.Status == domain.InvestmentCompleted {
		return outcomeCompleted
	}
	return outcomeProcessed
}

// RunEvery runs the job on a ticker until ctx is cancelled. A run refused
// because another holder owns the lease is not an error.
func (j *AccrualJob) RunEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("accrual ticker started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			j.logger.Info("accrual ticker stopped")
			return
		case <-ticker.C:
			if _, err := j.Run(ctx); err != nil {
				var conflict *domain.ErrConflict
				if errors.As(err, &conflict) {
					j.logger.Info("accrual run skipped", zap.Error(err))
					continue
				}
				j.logger.Error("accrual run failed", zap.Error(err))
			}
		}
	}
}
