package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/rebill/internal/ledger/domain"
	sourcedomain "github.com/smallbiznis/rebill/internal/paymentsource/domain"
	subscriptiondomain "github.com/smallbiznis/rebill/internal/subscription/domain"
	"go.uber.org/zap"
)

// Subscribe starts a subscription. With a payment_link_id the first payment
// settles asynchronously and the approved webhook activates the subscription;
// otherwise the stored payment source is charged immediately.
func (s *Server) Subscribe(c *gin.Context) {
	subscriberID, err := subscriberParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req struct {
		PlanCode      string `json:"plan_code"`
		PaymentLinkID string `json:"payment_link_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	planCode := strings.TrimSpace(req.PlanCode)
	plan, err := s.plans.FindByCode(c.Request.Context(), s.db, planCode)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if linkID := strings.TrimSpace(req.PaymentLinkID); linkID != "" {
		if err := s.reconciler.RegisterPendingPayment(c.Request.Context(), linkID, subscriberID, plan.Code); err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "awaiting_payment"})
		return
	}

	attempt, err := s.executor.Execute(c.Request.Context(), subscriberID, plan.Code)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	switch attempt.Status {
	case ledgerdomain.AttemptStatusApproved:
		subscription, err := s.activatedSubscription(c, subscriberID, plan.Code, plan.PeriodDays)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": gin.H{
			"subscription": subscription,
			"attempt":      attempt,
		}})
	case ledgerdomain.AttemptStatusPending:
		c.JSON(http.StatusAccepted, gin.H{"status": "pending", "data": gin.H{"attempt": attempt}})
	default:
		c.JSON(http.StatusPaymentRequired, gin.H{"status": string(attempt.Status), "data": gin.H{"attempt": attempt}})
	}
}

// activatedSubscription returns the subscription backing an approved first
// charge. The charge path already extended an existing active subscription,
// so activation only runs when none is in effect.
func (s *Server) activatedSubscription(c *gin.Context, subscriberID snowflake.ID, planCode string, periodDays int) (*subscriptiondomain.Subscription, error) {
	ctx := c.Request.Context()

	existing, err := s.subscriptions.GetBySubscriberAndPlan(ctx, subscriberID, planCode)
	if err != nil && !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		return nil, err
	}
	if existing != nil && existing.Active() {
		return existing, nil
	}

	return s.subscriptions.Activate(ctx, subscriptiondomain.ActivateRequest{
		SubscriberID: subscriberID,
		PlanID:       planCode,
		PeriodDays:   periodDays,
	})
}

// Unsubscribe cancels the subscription and the stored payment source. Plan
// access is preserved until the period already paid for runs out.
func (s *Server) Unsubscribe(c *gin.Context) {
	subscriberID, err := subscriberParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	planCode := strings.TrimSpace(c.Query("plan_code"))
	if planCode == "" {
		AbortWithError(c, newValidationError("plan_code", "invalid_plan", "plan_code is required"))
		return
	}

	if err := s.subscriptions.Cancel(c.Request.Context(), subscriberID, planCode); err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.sources.Cancel(c.Request.Context(), subscriberID); err != nil && !errors.Is(err, sourcedomain.ErrSourceNotFound) {
		s.log.Warn("failed to cancel payment source on unsubscribe",
			zap.String("subscriber_id", subscriberID.String()),
			zap.Error(err),
		)
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
