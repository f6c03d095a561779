// Package charge runs recurring charge invocations end to end: plan lookup,
// payment source resolution, gateway call, ledger transition and the dunning
// decision on failure. Both the renewal path and the retry sweep go through
// the same executor so the attempt ledger stays the single source of truth.
package charge

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rebill/internal/clock"
	"github.com/smallbiznis/rebill/internal/config"
	"github.com/smallbiznis/rebill/internal/gateway"
	ledgerdomain "github.com/smallbiznis/rebill/internal/ledger/domain"
	"github.com/smallbiznis/rebill/internal/notification"
	obsmetrics "github.com/smallbiznis/rebill/internal/observability/metrics"
	sourcedomain "github.com/smallbiznis/rebill/internal/paymentsource/domain"
	plandomain "github.com/smallbiznis/rebill/internal/plan/domain"
	"github.com/smallbiznis/rebill/internal/reference"
	"github.com/smallbiznis/rebill/internal/retry"
	subscriptiondomain "github.com/smallbiznis/rebill/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Cfg           config.Config
	Log           *zap.Logger
	DB            *gorm.DB
	Clock         clock.Clock
	Schedule      *config.RetryScheduleHolder
	Gateway       gateway.API
	Plans         plandomain.Repository
	Sources       sourcedomain.Service
	Ledger        ledgerdomain.Service
	Subscriptions subscriptiondomain.Service
	Gate          *notification.Gate
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

type Executor struct {
	cfg           config.Config
	log           *zap.Logger
	db            *gorm.DB
	clock         clock.Clock
	schedule      *config.RetryScheduleHolder
	gateway       gateway.API
	plans         plandomain.Repository
	sources       sourcedomain.Service
	ledger        ledgerdomain.Service
	subscriptions subscriptiondomain.Service
	gate          *notification.Gate
	metrics       *obsmetrics.Metrics
}

func NewExecutor(p Params) *Executor {
	return &Executor{
		cfg:           p.Cfg,
		log:           p.Log.Named("charge.executor"),
		db:            p.DB,
		clock:         p.Clock,
		schedule:      p.Schedule,
		gateway:       p.Gateway,
		plans:         p.Plans,
		sources:       p.Sources,
		ledger:        p.Ledger,
		subscriptions: p.Subscriptions,
		gate:          p.Gate,
		metrics:       p.Metrics,
	}
}

// Execute runs one charge for the subscriber on the given plan. Used for the
// initial charge at subscribe time and for renewals. The returned attempt
// reflects the synchronous outcome; a pending attempt is settled later by the
// webhook reconciler.
func (e *Executor) Execute(ctx context.Context, subscriberID snowflake.ID, planCode string) (*ledgerdomain.BillingAttempt, error) {
	plan, err := e.findPlan(ctx, planCode)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, subscriberID, plan, 0)
}

// ExecuteRetry re-runs a previously failed attempt from the sweep. The retry
// is consumed first so only one sweeper acts on it; everything after that is
// a fresh invocation carrying the accumulated failure count.
func (e *Executor) ExecuteRetry(ctx context.Context, prior ledgerdomain.BillingAttempt) error {
	consumed, err := e.ledger.ConsumeRetry(ctx, prior.ID)
	if err != nil {
		return err
	}
	if !consumed {
		return nil
	}

	sub, err := e.subscriptions.GetBySubscriberAndPlan(ctx, prior.SubscriberID, prior.PlanID)
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			e.log.Info("retry skipped, subscription gone",
				zap.String("attempt_id", prior.ID.String()),
			)
			return nil
		}
		return err
	}
	if !sub.Active() || !sub.AutoRenew {
		e.log.Info("retry skipped, renewal disabled",
			zap.String("subscriber_id", prior.SubscriberID.String()),
			zap.String("plan_id", prior.PlanID),
		)
		return nil
	}

	plan, err := e.findPlan(ctx, prior.PlanID)
	if err != nil {
		return err
	}

	_, err = e.run(ctx, prior.SubscriberID, plan, prior.RetryCount)
	return err
}

func (e *Executor) findPlan(ctx context.Context, code string) (*plandomain.Plan, error) {
	plan, err := e.plans.FindByCode(ctx, e.db, code)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}
	return plan, nil
}

func (e *Executor) run(ctx context.Context, subscriberID snowflake.ID, plan *plandomain.Plan, failuresSoFar int) (*ledgerdomain.BillingAttempt, error) {
	source, err := e.sources.FindActive(ctx, subscriberID)
	if err != nil {
		if errors.Is(err, sourcedomain.ErrNoPaymentMethod) {
			e.cancelRenewal(ctx, subscriberID, plan.Code,
				fmt.Sprintf("nopm_%s_%s", subscriberID.String(), plan.Code),
				"your subscription was cancelled: no payment method on file")
			e.recordMetric(ctx, string(retry.OutcomeNoPaymentMethod))
		}
		return nil, err
	}

	ref := reference.New(e.cfg.AppName, plan.Code, subscriberID, e.clock.Now())
	attempt, err := e.ledger.Open(ctx, ledgerdomain.OpenAttemptRequest{
		SubscriberID: subscriberID,
		PlanID:       plan.Code,
		Amount:       plan.Amount,
		Currency:     plan.Currency,
		Reference:    ref.Encode(),
		RetryCount:   failuresSoFar,
	})
	if err != nil {
		return nil, err
	}

	gctx, cancel := context.WithTimeout(ctx, e.cfg.Gateway.Timeout)
	defer cancel()

	txn, err := e.gateway.CreateTransaction(gctx, gateway.TransactionRequest{
		AmountInCents:   plan.Amount,
		Currency:        plan.Currency,
		CustomerEmail:   source.CustomerEmail,
		Reference:       ref.Encode(),
		PaymentSourceID: source.GatewaySourceID,
		Recurrent:       true,
	})
	if err != nil {
		// Timeouts and transport failures are indistinguishable from a
		// charge that went through; the attempt stays resolvable by the
		// webhook, and the dunning clock starts now.
		e.log.Warn("gateway call failed",
			zap.String("attempt_id", attempt.ID.String()),
			zap.Error(err),
		)
		e.recordFailure(ctx, attempt, retry.OutcomeError, err.Error())
		return e.ledger.GetByID(ctx, attempt.ID)
	}

	if txn.ID != "" {
		if err := e.ledger.AttachTransaction(ctx, attempt.ID, txn.ID); err != nil {
			e.log.Warn("failed to attach gateway transaction",
				zap.String("attempt_id", attempt.ID.String()),
				zap.String("transaction_id", txn.ID),
				zap.Error(err),
			)
		}
	}

	switch txn.Status {
	case gateway.StatusApproved:
		applied, err := e.ledger.Approve(ctx, attempt.ID)
		if err != nil {
			return nil, err
		}
		if applied {
			e.settleApproval(ctx, attempt, plan, txn.ID)
		}
		e.recordMetric(ctx, "approved")

	case gateway.StatusPending:
		// The gateway has not settled yet; the webhook reconciler owns
		// this attempt from here.
		e.log.Info("charge pending gateway settlement",
			zap.String("attempt_id", attempt.ID.String()),
			zap.String("transaction_id", txn.ID),
		)
		e.recordMetric(ctx, "pending")

	case gateway.StatusDeclined:
		e.recordFailure(ctx, attempt, retry.OutcomeDeclined, "card declined")
		e.recordMetric(ctx, "declined")

	default:
		e.recordFailure(ctx, attempt, retry.OutcomeError, "gateway status "+txn.Status)
		e.recordMetric(ctx, "error")
	}

	return e.ledger.GetByID(ctx, attempt.ID)
}

// settleApproval extends the paid period and notifies, keyed by the gateway
// transaction so the webhook delivering the same approval stays silent.
func (e *Executor) settleApproval(ctx context.Context, attempt *ledgerdomain.BillingAttempt, plan *plandomain.Plan, transactionID string) {
	_, err := e.subscriptions.ExtendForAttempt(ctx, attempt.SubscriberID, plan.Code, attempt.ID, plan.PeriodDays)
	if err != nil && !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		// The approval is already recorded; surface the bookkeeping
		// failure without unwinding the charge.
		e.log.Error("failed to extend subscription for approved attempt",
			zap.String("attempt_id", attempt.ID.String()),
			zap.Error(err),
		)
	}

	key := "success_" + transactionID
	if transactionID == "" {
		key = "success_attempt_" + attempt.ID.String()
	}
	sent := e.gate.Send(ctx, key, attempt.SubscriberID, "your subscription payment was received")
	if e.metrics != nil {
		e.metrics.RecordNotification(ctx, "payment_success", sent)
	}
}

// recordFailure applies the dunning decision for the nth failure of this
// renewal. The synchronous path never emits a failure notice; the webhook
// reconciler does that once the gateway confirms the outcome.
func (e *Executor) recordFailure(ctx context.Context, attempt *ledgerdomain.BillingAttempt, outcome retry.Outcome, detail string) {
	failures := attempt.RetryCount + 1
	decision := retry.Plan(e.schedule.Current().Offsets(), failures, outcome)

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
		next := e.clock.Now().Add(decision.After)
		req.NextRetryAt = &next
	}

	applied, err := e.ledger.Fail(ctx, attempt.ID, req)
	if err != nil {
		e.log.Error("failed to record charge failure",
			zap.String("attempt_id", attempt.ID.String()),
			zap.Error(err),
		)
		return
	}
	if !applied {
		// The webhook settled the attempt while we were deciding.
		return
	}

	if decision.Cancel {
		e.cancelRenewal(ctx, attempt.SubscriberID, attempt.PlanID,
			"cancel_"+attempt.ID.String(),
			"your subscription was cancelled after repeated payment failures")
	}
}

func (e *Executor) cancelRenewal(ctx context.Context, subscriberID snowflake.ID, planID, noticeKey, message string) {
	err := e.subscriptions.DisableAutoRenew(ctx, subscriberID, planID)
	if err != nil {
		if !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
			e.log.Error("failed to disable auto renew",
				zap.String("subscriber_id", subscriberID.String()),
				zap.String("plan_id", planID),
				zap.Error(err),
			)
		}
		// No subscription means nothing to cancel and nobody to notify.
		return
	}

	sent := e.gate.Send(ctx, noticeKey, subscriberID, message)
	if e.metrics != nil {
		e.metrics.RecordNotification(ctx, "cancellation", sent)
	}
}

func (e *Executor) recordMetric(ctx context.Context, outcome string) {
	if e.metrics != nil {
		e.metrics.RecordChargeAttempt(ctx, outcome)
	}
}
