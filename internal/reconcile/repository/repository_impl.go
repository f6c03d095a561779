package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/rebill/internal/reconcile/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertPending(ctx context.Context, db *gorm.DB, pending *domain.PendingPayment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO pending_payments (
			id, payment_link_id, subscriber_id, plan_id, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		pending.ID,
		pending.PaymentLinkID,
		pending.SubscriberID,
		pending.PlanID,
		pending.CreatedAt,
		pending.ExpiresAt,
	).Error
}

func (r *repo) ConsumePending(ctx context.Context, db *gorm.DB, paymentLinkID string, now time.Time) (*domain.PendingPayment, bool, error) {
	var pending domain.PendingPayment
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_link_id, subscriber_id, plan_id, created_at, expires_at
		 FROM pending_payments
		 WHERE payment_link_id = ? AND expires_at > ?
		 LIMIT 1`,
		paymentLinkID,
		now,
	).Scan(&pending).Error
	if err != nil {
		return nil, false, err
	}
	if pending.ID == 0 {
		return nil, false, nil
	}

	// The delete is the consume: whichever caller removes the row wins.
	res := db.WithContext(ctx).Exec(
		`DELETE FROM pending_payments WHERE id = ?`,
		pending.ID,
	)
	if res.Error != nil {
		return nil, false, res.Error
	}
	return &pending, res.RowsAffected > 0, nil
}
