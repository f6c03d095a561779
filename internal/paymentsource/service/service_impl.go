package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rebill/internal/clock"
	"github.com/smallbiznis/rebill/internal/gateway"
	"github.com/smallbiznis/rebill/internal/paymentsource/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Gateway gateway.API
	Repo    domain.Repository
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	gateway gateway.API
	repo    domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("paymentsource.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		gateway: p.Gateway,
		repo:    p.Repo,
	}
}

// CreateFromToken exchanges a one-time card token for a durable gateway
// source and persists it. Any previous active source for the subscriber is
// cancelled first so at most one active source exists per subscriber.
func (s *Service) CreateFromToken(ctx context.Context, req domain.CreateFromTokenRequest) (*domain.PaymentSource, error) {
	if req.SubscriberID == 0 {
		return nil, domain.ErrInvalidSubscriber
	}
	req.CardToken = strings.TrimSpace(req.CardToken)
	if req.CardToken == "" {
		return nil, domain.ErrMissingCardToken
	}
	req.CustomerEmail = strings.TrimSpace(req.CustomerEmail)
	if req.CustomerEmail == "" {
		return nil, domain.ErrMissingCustomerMail
	}

	acceptance, err := s.gateway.AcceptanceToken(ctx)
	if err != nil {
		s.log.Warn("acceptance token fetch failed",
			zap.String("subscriber_id", req.SubscriberID.String()),
			zap.Error(err),
		)
		return nil, domain.ErrTokenization
	}

	created, err := s.gateway.CreatePaymentSource(ctx, gateway.SourceRequest{
		Type:            "CARD",
		Token:           req.CardToken,
		CustomerEmail:   req.CustomerEmail,
		AcceptanceToken: acceptance,
	})
	if err != nil {
		s.log.Warn("payment source creation rejected",
			zap.String("subscriber_id", req.SubscriberID.String()),
			zap.Error(err),
		)
		return nil, domain.ErrTokenization
	}

	now := s.clock.Now()
	source := &domain.PaymentSource{
		ID:              s.genID.Generate(),
		SubscriberID:    req.SubscriberID,
		GatewaySourceID: created.ID,
		CustomerEmail:   req.CustomerEmail,
		CardBrand:       created.Brand,
		CardLastFour:    created.LastFour,
		Status:          domain.SourceStatusActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		previous, err := s.repo.FindActiveBySubscriber(ctx, tx, req.SubscriberID)
		if err != nil {
			return err
		}
		if previous != nil {
			if _, err := s.repo.UpdateStatus(ctx, tx, previous.ID, domain.SourceStatusActive, domain.SourceStatusCancelled, now); err != nil {
				return err
			}
		}
		return s.repo.Insert(ctx, tx, source)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("payment source created",
		zap.String("subscriber_id", req.SubscriberID.String()),
		zap.Int64("gateway_source_id", created.ID),
		zap.String("card_brand", created.Brand),
	)
	return source, nil
}

func (s *Service) FindActive(ctx context.Context, subscriberID snowflake.ID) (*domain.PaymentSource, error) {
	if subscriberID == 0 {
		return nil, domain.ErrInvalidSubscriber
	}
	source, err := s.repo.FindActiveBySubscriber(ctx, s.db, subscriberID)
	if err != nil {
		return nil, err
	}
	if source == nil {
		return nil, domain.ErrNoPaymentMethod
	}
	return source, nil
}

func (s *Service) Cancel(ctx context.Context, subscriberID snowflake.ID) error {
	source, err := s.FindActive(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, domain.ErrNoPaymentMethod) {
			return domain.ErrSourceNotFound
		}
		return err
	}

	applied, err := s.repo.UpdateStatus(ctx, s.db, source.ID, domain.SourceStatusActive, domain.SourceStatusCancelled, s.clock.Now())
	if err != nil {
		return err
	}
	if applied {
		s.log.Info("payment source cancelled",
			zap.String("subscriber_id", subscriberID.String()),
		)
	}
	return nil
}

// Reactivate re-enables the most recently cancelled source. The previously
// issued gateway source id is reused as-is; no re-tokenization happens here.
func (s *Service) Reactivate(ctx context.Context, subscriberID snowflake.ID) error {
	if subscriberID == 0 {
		return domain.ErrInvalidSubscriber
	}

	latest, err := s.repo.FindLatestBySubscriber(ctx, s.db, subscriberID)
	if err != nil {
		return err
	}
	if latest == nil {
		return domain.ErrSourceNotFound
	}
	if latest.Status == domain.SourceStatusActive {
		return nil
	}
	if latest.Status != domain.SourceStatusCancelled {
		return domain.ErrSourceNotCancelled
	}

	_, err = s.repo.UpdateStatus(ctx, s.db, latest.ID, domain.SourceStatusCancelled, domain.SourceStatusActive, s.clock.Now())
	return err
}
