package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindBySubscriberAndPlan(ctx context.Context, db *gorm.DB, subscriberID snowflake.ID, planID string) (*Subscription, error)

	// Extend advances next_billing_date, guarded by the observed billing
	// date so two writers extending for the same attempt apply once.
	Extend(ctx context.Context, db *gorm.DB, id snowflake.ID, observed, next time.Time, attemptID snowflake.ID, updatedAt time.Time) (bool, error)

	Revive(ctx context.Context, db *gorm.DB, id snowflake.ID, nextBillingDate, updatedAt time.Time) error
	SetAutoRenew(ctx context.Context, db *gorm.DB, id snowflake.ID, autoRenew bool, updatedAt time.Time) error
	SetCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, cancelledAt time.Time) error
}
