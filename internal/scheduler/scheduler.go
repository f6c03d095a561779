// Package scheduler drives the background work: the retry sweep that re-runs
// due billing attempts, and the hourly notification ledger sweep. In
// multi-instance deployments a redis lock keeps one sweeper active per tick;
// the per-attempt retry consume makes a lost lock race harmless anyway.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/rebill/internal/clock"
	ledgerdomain "github.com/smallbiznis/rebill/internal/ledger/domain"
	"github.com/smallbiznis/rebill/internal/notification"
	obsmetrics "github.com/smallbiznis/rebill/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

const retrySweepLockKey = "rebill:scheduler:retry_sweep"

// Executor re-runs one due attempt. *charge.Executor implements it.
type Executor interface {
	ExecuteRetry(ctx context.Context, prior ledgerdomain.BillingAttempt) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Ledger   ledgerdomain.Service
	Executor Executor
	NoticeL  notification.Ledger
	Locker   *Locker             `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
	Config   Config              `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	clock    clock.Clock
	ledger   ledgerdomain.Service
	executor Executor
	notices  notification.Ledger
	locker   *Locker
	metrics  *obsmetrics.Metrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.Clock == nil || p.Ledger == nil || p.Executor == nil || p.NoticeL == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler"),
		cfg:      p.Config.withDefaults(),
		clock:    p.Clock,
		ledger:   p.Ledger,
		executor: p.Executor,
		notices:  p.NoticeL,
		locker:   p.Locker,
		metrics:  p.Metrics,
	}, nil
}

// RunOnce performs a single retry sweep.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, retrySweepLockKey, s.cfg.LockTTL)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Debug("retry sweep lock held elsewhere")
			return nil
		}
		defer func() {
			if err := s.locker.Release(ctx, retrySweepLockKey, token); err != nil {
				s.log.Warn("failed to release sweep lock", zap.Error(err))
			}
		}()
	}
	return s.sweepDueRetries(ctx)
}

func (s *Scheduler) sweepDueRetries(ctx context.Context) error {
	var jobErr error
	swept := 0

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		due, err := s.ledger.FindDueRetries(ctx, s.clock.Now(), s.cfg.BatchSize)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(due) == 0 {
			break
		}

		for _, attempt := range due {
			if ctx.Err() != nil {
				return errors.Join(jobErr, ctx.Err())
			}
			if err := s.executor.ExecuteRetry(ctx, attempt); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.log.Warn("retry execution failed",
					zap.String("attempt_id", attempt.ID.String()),
					zap.String("subscriber_id", attempt.SubscriberID.String()),
					zap.Error(err),
				)
				continue
			}
			swept++
		}

		// ExecuteRetry consumes next_retry_at, so a short batch means the
		// backlog is drained.
		if len(due) < s.cfg.BatchSize {
			break
		}
	}

	if swept > 0 {
		s.log.Info("retry sweep completed", zap.Int("swept", swept))
		if s.metrics != nil {
			s.metrics.RecordRetriesSwept(ctx, swept)
		}
	}
	return jobErr
}

// RunForever ticks the retry sweep until the context is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// StartLedgerSweep schedules the notification ledger cleanup. Returns the
// cron so the caller can stop it on shutdown.
func (s *Scheduler) StartLedgerSweep(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(s.cfg.LedgerSweepSpec, func() {
		if err := s.notices.Sweep(ctx); err != nil {
			s.log.Warn("notification ledger sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
