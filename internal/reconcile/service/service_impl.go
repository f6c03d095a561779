package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rebill/internal/clock"
	"github.com/smallbiznis/rebill/internal/config"
	"github.com/smallbiznis/rebill/internal/gateway"
	ledgerdomain "github.com/smallbiznis/rebill/internal/ledger/domain"
	"github.com/smallbiznis/rebill/internal/notification"
	obsmetrics "github.com/smallbiznis/rebill/internal/observability/metrics"
	plandomain "github.com/smallbiznis/rebill/internal/plan/domain"
	"github.com/smallbiznis/rebill/internal/reconcile/domain"
	"github.com/smallbiznis/rebill/internal/reconcile/signature"
	"github.com/smallbiznis/rebill/internal/reference"
	"github.com/smallbiznis/rebill/internal/retry"
	subscriptiondomain "github.com/smallbiznis/rebill/internal/subscription/domain"
	pkgdb "github.com/smallbiznis/rebill/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// pendingLinkTTL is how long a payment-link registration stays claimable.
// A webhook for an expired link is acknowledged without activating anything.
const pendingLinkTTL = 24 * time.Hour

type Params struct {
	fx.In

	Cfg           config.Config
	Log           *zap.Logger
	DB            *gorm.DB
	GenID         *snowflake.Node
	Clock         clock.Clock
	Schedule      *config.RetryScheduleHolder
	Repo          domain.Repository
	Plans         plandomain.Repository
	Ledger        ledgerdomain.Service
	Subscriptions subscriptiondomain.Service
	Gate          *notification.Gate
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log           *zap.Logger
	db            *gorm.DB
	genID         *snowflake.Node
	clock         clock.Clock
	schedule      *config.RetryScheduleHolder
	verifier      *signature.Verifier
	repo          domain.Repository
	plans         plandomain.Repository
	ledger        ledgerdomain.Service
	subscriptions subscriptiondomain.Service
	gate          *notification.Gate
	metrics       *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		log:           p.Log.Named("reconcile.service"),
		db:            p.DB,
		genID:         p.GenID,
		clock:         p.Clock,
		schedule:      p.Schedule,
		verifier:      signature.NewVerifier(p.Cfg.Gateway.EventsSecret),
		repo:          p.Repo,
		plans:         p.Plans,
		ledger:        p.Ledger,
		subscriptions: p.Subscriptions,
		gate:          p.Gate,
		metrics:       p.Metrics,
	}
}

// Ingest applies one webhook delivery. The gateway redelivers until it sees a
// success, so every recognized situation, including duplicates and events we
// do not act on, returns nil. Only signature failures and infrastructure
// errors propagate.
func (s *Service) Ingest(ctx context.Context, payload []byte, headers http.Header) error {
	if err := s.verifier.Verify(payload, headers); err != nil {
		s.recordEvent(ctx, "unknown", "rejected")
		return domain.ErrInvalidSignature
	}

	var event domain.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		s.recordEvent(ctx, "unknown", "malformed")
		return domain.ErrInvalidPayload
	}

	if strings.TrimSpace(event.Event) != domain.EventTransactionUpdated {
		s.log.Info("ignoring webhook event", zap.String("event", event.Event))
		s.recordEvent(ctx, event.Event, "ignored")
		return nil
	}

	txn := event.Data.Transaction
	txn.Status = strings.ToUpper(strings.TrimSpace(txn.Status))
	if txn.ID == "" || txn.Status == "" {
		s.recordEvent(ctx, event.Event, "malformed")
		return domain.ErrInvalidEvent
	}

	if strings.TrimSpace(txn.PaymentLinkID) != "" {
		return s.reconcilePaymentLink(ctx, txn)
	}
	return s.reconcileRecurring(ctx, txn)
}

// reconcilePaymentLink settles a one-shot checkout. The pending registration
// is consumed exactly once; a redelivered approval finds no row and acks.
func (s *Service) reconcilePaymentLink(ctx context.Context, txn domain.EventTransaction) error {
	if txn.Status != gateway.StatusApproved {
		// The subscriber can retry the link; keep the registration.
		s.log.Info("payment link not approved",
			zap.String("transaction_id", txn.ID),
			zap.String("status", txn.Status),
		)
		s.recordEvent(ctx, domain.EventTransactionUpdated, "link_unsettled")
		return nil
	}

	pending, consumed, err := s.repo.ConsumePending(ctx, s.db, txn.PaymentLinkID, s.clock.Now())
	if err != nil {
		return err
	}
	if !consumed {
		s.log.Info("payment link already reconciled or unknown",
			zap.String("payment_link_id", txn.PaymentLinkID),
		)
		s.recordEvent(ctx, domain.EventTransactionUpdated, "link_duplicate")
		return nil
	}

	plan, err := s.findPlan(ctx, pending.PlanID)
	if err != nil {
		return err
	}
	if _, err := s.subscriptions.Activate(ctx, subscriptiondomain.ActivateRequest{
		SubscriberID: pending.SubscriberID,
		PlanID:       plan.Code,
		PeriodDays:   plan.PeriodDays,
	}); err != nil {
		return err
	}

	sent := s.gate.Send(ctx, "success_"+txn.ID, pending.SubscriberID, "your subscription payment was received")
	if s.metrics != nil {
		s.metrics.RecordNotification(ctx, "payment_success", sent)
	}
	s.recordEvent(ctx, domain.EventTransactionUpdated, "link_settled")
	return nil
}

func (s *Service) reconcileRecurring(ctx context.Context, txn domain.EventTransaction) error {
	if _, err := reference.Parse(txn.Reference); err != nil {
		// References issued by other systems share the gateway account;
		// acknowledge and move on.
		s.log.Warn("unparseable transaction reference",
			zap.String("transaction_id", txn.ID),
			zap.String("reference", txn.Reference),
		)
		s.recordEvent(ctx, domain.EventTransactionUpdated, "foreign_reference")
		return nil
	}

	attempt, err := s.findAttempt(ctx, txn.ID, txn.Reference)
	if err != nil {
		return err
	}
	if attempt == nil {
		s.log.Warn("no billing attempt for webhook transaction",
			zap.String("transaction_id", txn.ID),
			zap.String("reference", txn.Reference),
		)
		s.recordEvent(ctx, domain.EventTransactionUpdated, "orphan")
		return nil
	}

	if attempt.GatewayTransactionID == nil {
		if err := s.ledger.AttachTransaction(ctx, attempt.ID, txn.ID); err != nil {
			s.log.Warn("failed to attach webhook transaction",
				zap.String("attempt_id", attempt.ID.String()),
				zap.Error(err),
			)
		}
	}

	switch txn.Status {
	case gateway.StatusApproved:
		return s.settleApproved(ctx, attempt, txn.ID)
	case gateway.StatusDeclined:
		return s.settleFailed(ctx, attempt, txn.ID, retry.OutcomeDeclined, "card declined")
	case gateway.StatusError, gateway.StatusVoided:
		return s.settleFailed(ctx, attempt, txn.ID, retry.OutcomeError, "gateway status "+txn.Status)
	default:
		s.recordEvent(ctx, domain.EventTransactionUpdated, "unsettled")
		return nil
	}
}

func (s *Service) settleApproved(ctx context.Context, attempt *ledgerdomain.BillingAttempt, transactionID string) error {
	applied, err := s.ledger.Approve(ctx, attempt.ID)
	if err != nil {
		return err
	}
	if applied {
		plan, err := s.findPlan(ctx, attempt.PlanID)
		if err != nil {
			return err
		}
		_, err = s.subscriptions.ExtendForAttempt(ctx, attempt.SubscriberID, plan.Code, attempt.ID, plan.PeriodDays)
		if err != nil && !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			return err
		}
	}

	// Keyed by transaction, so the synchronous path and any number of
	// webhook redeliveries produce one notice.
	sent := s.gate.Send(ctx, "success_"+transactionID, attempt.SubscriberID, "your subscription payment was received")
	if s.metrics != nil {
		s.metrics.RecordNotification(ctx, "payment_success", sent)
	}
	s.recordEvent(ctx, domain.EventTransactionUpdated, "approved")
	return nil
}

func (s *Service) settleFailed(ctx context.Context, attempt *ledgerdomain.BillingAttempt, transactionID string, outcome retry.Outcome, detail string) error {
	failures := attempt.RetryCount + 1
	decision := retry.Plan(s.schedule.Current().Offsets(), failures, outcome)

	to := ledgerdomain.AttemptStatusError
	if outcome == retry.OutcomeDeclined {
		to = ledgerdomain.AttemptStatusDeclined
	}

	req := ledgerdomain.FailAttemptRequest{
		To:         to,
		Detail:     detail,
		RetryCount: failures,
	}
	if decision.Retry {
		next := s.clock.Now().Add(decision.After)
		req.NextRetryAt = &next
	}

	applied, err := s.ledger.Fail(ctx, attempt.ID, req)
	if err != nil {
		return err
	}

	// Reload rather than trust `applied`: the synchronous path may have
	// recorded the same failure first, and the notice still belongs to
	// whoever holds the webhook.
	current, err := s.ledger.GetByID(ctx, attempt.ID)
	if err != nil {
		return err
	}
	if current.Status == ledgerdomain.AttemptStatusApproved {
		s.recordEvent(ctx, domain.EventTransactionUpdated, "stale_failure")
		return nil
	}
	if !applied && current.Terminal() {
		// The budget-exhausting failure was already recorded; its
		// cancellation notice went out then. Nothing left to say.
		s.recordEvent(ctx, domain.EventTransactionUpdated, "terminal_duplicate")
		return nil
	}

	if applied && decision.Cancel {
		if err := s.subscriptions.DisableAutoRenew(ctx, attempt.SubscriberID, attempt.PlanID); err != nil &&
			!errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			return err
		}
		sent := s.gate.Send(ctx, "cancel_"+attempt.ID.String(), attempt.SubscriberID,
			"your subscription was cancelled after repeated payment failures")
		if s.metrics != nil {
			s.metrics.RecordNotification(ctx, "cancellation", sent)
		}
	} else {
		sent := s.gate.Send(ctx, "failed_"+transactionID, attempt.SubscriberID,
			"your subscription payment failed, we will retry")
		if s.metrics != nil {
			s.metrics.RecordNotification(ctx, "payment_failed", sent)
		}
	}

	s.recordEvent(ctx, domain.EventTransactionUpdated, "failed")
	return nil
}

// findAttempt prefers the transaction id recorded at charge time and falls
// back to the idempotency reference, which the webhook carries verbatim. The
// fallback covers charges whose synchronous response never arrived: those may
// already sit in a non-terminal failed state awaiting a retry.
func (s *Service) findAttempt(ctx context.Context, transactionID, ref string) (*ledgerdomain.BillingAttempt, error) {
	attempt, err := s.ledger.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if attempt != nil {
		return attempt, nil
	}
	return s.ledger.FindByReference(ctx, ref)
}

func (s *Service) findPlan(ctx context.Context, code string) (*plandomain.Plan, error) {
	plan, err := s.plans.FindByCode(ctx, s.db, code)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	return plan, nil
}

func (s *Service) RegisterPendingPayment(ctx context.Context, paymentLinkID string, subscriberID snowflake.ID, planID string) error {
	paymentLinkID = strings.TrimSpace(paymentLinkID)
	if paymentLinkID == "" || subscriberID == 0 || planID == "" {
		return domain.ErrInvalidEvent
	}

	now := s.clock.Now()
	err := s.repo.InsertPending(ctx, s.db, &domain.PendingPayment{
		ID:            s.genID.Generate(),
		PaymentLinkID: paymentLinkID,
		SubscriberID:  subscriberID,
		PlanID:        planID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(pendingLinkTTL),
	})
	if err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return domain.ErrDuplicateLink
		}
		return err
	}
	return nil
}

func (s *Service) recordEvent(ctx context.Context, eventType, result string) {
	if s.metrics != nil {
		s.metrics.RecordWebhookEvent(ctx, eventType, result)
	}
}
