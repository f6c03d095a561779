// Package domain contains persistence models for recurring subscriptions.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Subscription binds a subscriber to a plan and tracks when the next renewal
// charge is owed. LastExtendedAttemptID records which billing attempt paid
// for the current period, so a synchronous approval and a duplicate webhook
// for the same attempt extend the period exactly once.
type Subscription struct {
	ID                    snowflake.ID      `gorm:"primaryKey"`
	SubscriberID          snowflake.ID      `gorm:"not null;uniqueIndex:ux_subscriptions_subscriber_plan,priority:1"`
	PlanID                string            `gorm:"type:text;not null;uniqueIndex:ux_subscriptions_subscriber_plan,priority:2"`
	StartedAt             time.Time         `gorm:"not null"`
	NextBillingDate       time.Time         `gorm:"not null;index"`
	AutoRenew             bool              `gorm:"not null;default:true"`
	CancelledAt           *time.Time        `gorm:""`
	LastExtendedAttemptID *snowflake.ID     `gorm:""`
	Metadata              datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt             time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// Active reports whether the subscription has not been cancelled.
func (s Subscription) Active() bool { return s.CancelledAt == nil }
