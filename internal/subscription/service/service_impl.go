package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rebill/internal/clock"
	"github.com/smallbiznis/rebill/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("subscription.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) GetBySubscriberAndPlan(ctx context.Context, subscriberID snowflake.ID, planID string) (*domain.Subscription, error) {
	if subscriberID == 0 {
		return nil, domain.ErrInvalidSubscriber
	}
	if planID == "" {
		return nil, domain.ErrInvalidPlan
	}
	sub, err := s.repo.FindBySubscriberAndPlan(ctx, s.db, subscriberID, planID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) Activate(ctx context.Context, req domain.ActivateRequest) (*domain.Subscription, error) {
	if req.SubscriberID == 0 {
		return nil, domain.ErrInvalidSubscriber
	}
	if req.PlanID == "" {
		return nil, domain.ErrInvalidPlan
	}
	if req.PeriodDays <= 0 {
		return nil, domain.ErrInvalidPeriod
	}

	now := s.clock.Now()
	next := now.AddDate(0, 0, req.PeriodDays)

	existing, err := s.repo.FindBySubscriberAndPlan(ctx, s.db, req.SubscriberID, req.PlanID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := s.repo.Revive(ctx, s.db, existing.ID, next, now); err != nil {
			return nil, err
		}
		s.log.Info("subscription revived",
			zap.String("subscriber_id", req.SubscriberID.String()),
			zap.String("plan_id", req.PlanID),
			zap.Time("next_billing_date", next),
		)
		return s.repo.FindBySubscriberAndPlan(ctx, s.db, req.SubscriberID, req.PlanID)
	}

	sub := &domain.Subscription{
		ID:              s.genID.Generate(),
		SubscriberID:    req.SubscriberID,
		PlanID:          req.PlanID,
		StartedAt:       now,
		NextBillingDate: next,
		AutoRenew:       true,
		Metadata:        req.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Insert(ctx, s.db, sub); err != nil {
		return nil, err
	}

	s.log.Info("subscription activated",
		zap.String("subscriber_id", req.SubscriberID.String()),
		zap.String("plan_id", req.PlanID),
		zap.Time("next_billing_date", next),
	)
	return sub, nil
}

// ExtendForAttempt is safe to call from both the synchronous charge path and
// the webhook reconciler for the same approved attempt. The first caller
// advances the billing date; the second observes the recorded attempt id or a
// moved billing date and no-ops.
func (s *Service) ExtendForAttempt(ctx context.Context, subscriberID snowflake.ID, planID string, attemptID snowflake.ID, periodDays int) (bool, error) {
	if periodDays <= 0 {
		return false, domain.ErrInvalidPeriod
	}

	sub, err := s.GetBySubscriberAndPlan(ctx, subscriberID, planID)
	if err != nil {
		return false, err
	}
	if sub.LastExtendedAttemptID != nil && *sub.LastExtendedAttemptID == attemptID {
		return false, nil
	}

	// A late renewal extends from now rather than stacking onto a lapsed
	// billing date the subscriber was never covered for.
	now := s.clock.Now()
	base := sub.NextBillingDate
	if base.Before(now) {
		base = now
	}
	next := base.AddDate(0, 0, periodDays)

	applied, err := s.repo.Extend(ctx, s.db, sub.ID, sub.NextBillingDate, next, attemptID, now)
	if err != nil {
		return false, err
	}
	if applied {
		s.log.Info("subscription extended",
			zap.String("subscriber_id", subscriberID.String()),
			zap.String("plan_id", planID),
			zap.String("attempt_id", attemptID.String()),
			zap.Time("next_billing_date", next),
		)
	}
	return applied, nil
}

func (s *Service) DisableAutoRenew(ctx context.Context, subscriberID snowflake.ID, planID string) error {
	sub, err := s.GetBySubscriberAndPlan(ctx, subscriberID, planID)
	if err != nil {
		return err
	}
	if !sub.AutoRenew {
		return nil
	}
	if err := s.repo.SetAutoRenew(ctx, s.db, sub.ID, false, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info("auto renew disabled",
		zap.String("subscriber_id", subscriberID.String()),
		zap.String("plan_id", planID),
	)
	return nil
}

func (s *Service) Cancel(ctx context.Context, subscriberID snowflake.ID, planID string) error {
	sub, err := s.GetBySubscriberAndPlan(ctx, subscriberID, planID)
	if err != nil {
		return err
	}
	if sub.CancelledAt != nil {
		return nil
	}
	if err := s.repo.SetCancelled(ctx, s.db, sub.ID, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info("subscription cancelled",
		zap.String("subscriber_id", subscriberID.String()),
		zap.String("plan_id", planID),
	)
	return nil
}
