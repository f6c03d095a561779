// Package domain contains the billing-attempt ledger: one row per charge
// invocation, advanced through an explicit state machine. Every status change
// is a compare-and-set on the current status, so concurrent writers (the
// synchronous charge path and the webhook reconciler) cannot overwrite each
// other: the loser of a race observes a settled row and no-ops.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// AttemptStatus is the ledger state of one charge invocation.
type AttemptStatus string

const (
	AttemptStatusPending  AttemptStatus = "pending"
	AttemptStatusApproved AttemptStatus = "approved"
	AttemptStatusDeclined AttemptStatus = "declined"
	AttemptStatusError    AttemptStatus = "error"
)

// BillingAttempt records one charge invocation. Retries create new rows;
// attempts for the same renewal are correlated by subscriber, plan and
// creation order. RetryCount is the number of failures recorded on this
// dunning run up to and including this attempt.
type BillingAttempt struct {
	ID                   snowflake.ID  `gorm:"primaryKey"`
	SubscriberID         snowflake.ID  `gorm:"not null;index"`
	PlanID               string        `gorm:"type:text;not null"`
	Amount               int64         `gorm:"not null"`
	Currency             string        `gorm:"type:char(3);not null"`
	Status               AttemptStatus `gorm:"type:text;not null"`
	GatewayTransactionID *string       `gorm:"type:text"`
	Reference            string        `gorm:"type:text;not null;uniqueIndex"`
	RetryCount           int           `gorm:"not null;default:0"`
	NextRetryAt          *time.Time    `gorm:"index"`
	ErrorDetail          *string       `gorm:"type:text"`
	CreatedAt            time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt            time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BillingAttempt) TableName() string { return "billing_attempts" }

// Terminal reports whether the attempt can no longer change state. Approved
// attempts are always terminal. Failed attempts are terminal once no retry
// remains scheduled, either because the budget was exhausted or because a
// sweep already consumed the retry into a newer attempt.
func (a BillingAttempt) Terminal() bool {
	switch a.Status {
	case AttemptStatusApproved:
		return true
	case AttemptStatusDeclined, AttemptStatusError:
		return a.NextRetryAt == nil
	default:
		return false
	}
}
