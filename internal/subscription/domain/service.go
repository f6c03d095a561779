package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrInvalidSubscriber    = errors.New("invalid_subscriber")
	ErrInvalidPlan          = errors.New("invalid_plan")
	ErrInvalidPeriod        = errors.New("invalid_period")
)

type ActivateRequest struct {
	SubscriberID snowflake.ID
	PlanID       string
	PeriodDays   int
	Metadata     datatypes.JSONMap
}

type Service interface {
	GetBySubscriberAndPlan(ctx context.Context, subscriberID snowflake.ID, planID string) (*Subscription, error)

	// Activate creates the subscription after a successful initial charge,
	// or revives a cancelled one on resubscribe. The next billing date is
	// set one plan period from now.
	Activate(ctx context.Context, req ActivateRequest) (*Subscription, error)

	// ExtendForAttempt pushes the next billing date one period forward on
	// behalf of an approved billing attempt. Returns true when this call
	// performed the extension; an attempt that already extended the
	// subscription no-ops, whichever path delivers it.
	ExtendForAttempt(ctx context.Context, subscriberID snowflake.ID, planID string, attemptID snowflake.ID, periodDays int) (bool, error)

	DisableAutoRenew(ctx context.Context, subscriberID snowflake.ID, planID string) error
	Cancel(ctx context.Context, subscriberID snowflake.ID, planID string) error
}
