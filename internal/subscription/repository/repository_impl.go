package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rebill/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (
			id, subscriber_id, plan_id, started_at, next_billing_date,
			auto_renew, cancelled_at, last_extended_attempt_id, metadata,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		subscription.ID,
		subscription.SubscriberID,
		subscription.PlanID,
		subscription.StartedAt,
		subscription.NextBillingDate,
		subscription.AutoRenew,
		subscription.CancelledAt,
		subscription.LastExtendedAttemptID,
		subscription.Metadata,
		subscription.CreatedAt,
		subscription.UpdatedAt,
	).Error
}

func (r *repo) FindBySubscriberAndPlan(ctx context.Context, db *gorm.DB, subscriberID snowflake.ID, planID string) (*domain.Subscription, error) {
	var item domain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscriber_id, plan_id, started_at, next_billing_date,
			auto_renew, cancelled_at, last_extended_attempt_id, metadata,
			created_at, updated_at
		 FROM subscriptions
		 WHERE subscriber_id = ? AND plan_id = ?
		 LIMIT 1`,
		subscriberID, planID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) Extend(ctx context.Context, db *gorm.DB, id snowflake.ID, observed, next time.Time, attemptID snowflake.ID, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET next_billing_date = ?, last_extended_attempt_id = ?, updated_at = ?
		 WHERE id = ? AND next_billing_date = ?
		   AND (last_extended_attempt_id IS NULL OR last_extended_attempt_id <> ?)`,
		next,
		attemptID,
		updatedAt,
		id,
		observed,
		attemptID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Revive(ctx context.Context, db *gorm.DB, id snowflake.ID, nextBillingDate, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET cancelled_at = NULL, auto_renew = ?, next_billing_date = ?,
		     last_extended_attempt_id = NULL, updated_at = ?
		 WHERE id = ?`,
		true,
		nextBillingDate,
		updatedAt,
		id,
	).Error
}

func (r *repo) SetAutoRenew(ctx context.Context, db *gorm.DB, id snowflake.ID, autoRenew bool, updatedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET auto_renew = ?, updated_at = ? WHERE id = ?`,
		autoRenew,
		updatedAt,
		id,
	).Error
}

func (r *repo) SetCancelled(ctx context.Context, db *gorm.DB, id snowflake.ID, cancelledAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET cancelled_at = ?, auto_renew = ?, updated_at = ?
		 WHERE id = ?`,
		cancelledAt,
		false,
		cancelledAt,
		id,
	).Error
}
