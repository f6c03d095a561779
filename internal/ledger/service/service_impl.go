package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rebill/internal/clock"
	"github.com/smallbiznis/rebill/internal/ledger/domain"
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
		log:   p.Log.Named("ledger.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Open(ctx context.Context, req domain.OpenAttemptRequest) (*domain.BillingAttempt, error) {
	if req.SubscriberID == 0 || req.PlanID == "" || req.Amount <= 0 {
		return nil, domain.ErrInvalidAttempt
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	if req.Currency == "" || req.Reference == "" {
		return nil, domain.ErrInvalidAttempt
	}

	now := s.clock.Now()
	attempt := &domain.BillingAttempt{
		ID:           s.genID.Generate(),
		SubscriberID: req.SubscriberID,
		PlanID:       req.PlanID,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       domain.AttemptStatusPending,
		Reference:    req.Reference,
		RetryCount:   req.RetryCount,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, s.db, attempt); err != nil {
		return nil, err
	}

	s.log.Info("billing attempt opened",
		zap.String("attempt_id", attempt.ID.String()),
		zap.String("subscriber_id", req.SubscriberID.String()),
		zap.String("plan_id", req.PlanID),
		zap.Int("retry_count", req.RetryCount),
	)
	return attempt, nil
}

func (s *Service) AttachTransaction(ctx context.Context, id snowflake.ID, gatewayTransactionID string) error {
	if gatewayTransactionID == "" {
		return domain.ErrInvalidAttempt
	}
	return s.repo.SetGatewayTransaction(ctx, s.db, id, gatewayTransactionID, s.clock.Now())
}

// Approve settles the attempt as paid. The transition is attempted from the
// attempt's observed status, so a pending attempt and a non-terminal failed
// attempt (a late approval webhook after a synchronous timeout) both move
// forward, while two concurrent approvers resolve to exactly one winner.
func (s *Service) Approve(ctx context.Context, id snowflake.ID) (bool, error) {
	attempt, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if attempt.Status == domain.AttemptStatusApproved {
		return false, nil
	}
	if attempt.Terminal() {
		// Money may have moved at the gateway after the dunning run gave
		// up. Keep the ledger immutable and flag it for a human.
		s.log.Warn("approval received for settled attempt",
			zap.String("attempt_id", id.String()),
			zap.String("status", string(attempt.Status)),
		)
		return false, nil
	}

	applied, err := s.repo.TransitionToApproved(ctx, s.db, id, attempt.Status, s.clock.Now())
	if err != nil {
		return false, err
	}
	if applied {
		s.log.Info("billing attempt approved",
			zap.String("attempt_id", id.String()),
			zap.String("subscriber_id", attempt.SubscriberID.String()),
		)
	}
	return applied, nil
}

// Fail records a declined or errored outcome on a pending attempt. An attempt
// the other path already settled is left untouched and reported as not
// applied.
func (s *Service) Fail(ctx context.Context, id snowflake.ID, req domain.FailAttemptRequest) (bool, error) {
	if req.To != domain.AttemptStatusDeclined && req.To != domain.AttemptStatusError {
		return false, domain.ErrInvalidFailStatus
	}

	attempt, err := s.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if attempt.Status != domain.AttemptStatusPending {
		return false, nil
	}

	applied, err := s.repo.TransitionToFailed(ctx, s.db, id,
		domain.AttemptStatusPending, req.To, req.Detail, req.RetryCount, req.NextRetryAt, s.clock.Now())
	if err != nil {
		return false, err
	}
	if applied {
		fields := []zap.Field{
			zap.String("attempt_id", id.String()),
			zap.String("subscriber_id", attempt.SubscriberID.String()),
			zap.String("status", string(req.To)),
			zap.Int("retry_count", req.RetryCount),
		}
		if req.NextRetryAt != nil {
			fields = append(fields, zap.Time("next_retry_at", *req.NextRetryAt))
		}
		s.log.Info("billing attempt failed", fields...)
	}
	return applied, nil
}

func (s *Service) ConsumeRetry(ctx context.Context, id snowflake.ID) (bool, error) {
	return s.repo.ClearRetry(ctx, s.db, id, s.clock.Now())
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.BillingAttempt, error) {
	attempt, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if attempt == nil {
		return nil, domain.ErrAttemptNotFound
	}
	return attempt, nil
}

func (s *Service) FindByTransactionID(ctx context.Context, gatewayTransactionID string) (*domain.BillingAttempt, error) {
	return s.repo.FindByTransactionID(ctx, s.db, gatewayTransactionID)
}

func (s *Service) FindByReference(ctx context.Context, reference string) (*domain.BillingAttempt, error) {
	return s.repo.FindByReference(ctx, s.db, reference)
}

func (s *Service) FindDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.BillingAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.FindDue(ctx, s.db, now, limit)
}
