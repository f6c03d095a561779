package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rebill/internal/ledger/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, attempt *domain.BillingAttempt) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO billing_attempts (
			id, subscriber_id, plan_id, amount, currency, status,
			gateway_transaction_id, reference, retry_count, next_retry_at,
			error_detail, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID,
		attempt.SubscriberID,
		attempt.PlanID,
		attempt.Amount,
		attempt.Currency,
		attempt.Status,
		attempt.GatewayTransactionID,
		attempt.Reference,
		attempt.RetryCount,
		attempt.NextRetryAt,
		attempt.ErrorDetail,
		attempt.CreatedAt,
		attempt.UpdatedAt,
	).Error
}

const attemptColumns = `id, subscriber_id, plan_id, amount, currency, status,
	gateway_transaction_id, reference, retry_count, next_retry_at,
	error_detail, created_at, updated_at`

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.BillingAttempt, error) {
	return r.findOne(ctx, db,
		`SELECT `+attemptColumns+` FROM billing_attempts WHERE id = ?`,
		id,
	)
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, gatewayTransactionID string) (*domain.BillingAttempt, error) {
	return r.findOne(ctx, db,
		`SELECT `+attemptColumns+` FROM billing_attempts
		 WHERE gateway_transaction_id = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		gatewayTransactionID,
	)
}

func (r *repo) FindByReference(ctx context.Context, db *gorm.DB, reference string) (*domain.BillingAttempt, error) {
	return r.findOne(ctx, db,
		`SELECT `+attemptColumns+` FROM billing_attempts
		 WHERE reference = ?
		 LIMIT 1`,
		reference,
	)
}

func (r *repo) FindDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.BillingAttempt, error) {
	var items []domain.BillingAttempt
	err := db.WithContext(ctx).Raw(
		`SELECT `+attemptColumns+` FROM billing_attempts
		 WHERE status IN (?, ?) AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		 ORDER BY next_retry_at ASC
		 LIMIT ?`,
		domain.AttemptStatusDeclined,
		domain.AttemptStatusError,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.BillingAttempt, error) {
	var item domain.BillingAttempt
	err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) SetGatewayTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID, gatewayTransactionID string, updatedAt time.Time) error {
	// First writer wins: a charge whose synchronous response timed out has
	// no transaction id until the webhook supplies one, whatever status the
	// attempt has reached by then.
	return db.WithContext(ctx).Exec(
		`UPDATE billing_attempts
		 SET gateway_transaction_id = ?, updated_at = ?
		 WHERE id = ? AND gateway_transaction_id IS NULL`,
		gatewayTransactionID,
		updatedAt,
		id,
	).Error
}

func (r *repo) TransitionToApproved(ctx context.Context, db *gorm.DB, id snowflake.ID, from domain.AttemptStatus, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_attempts
		 SET status = ?, next_retry_at = NULL, error_detail = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.AttemptStatusApproved,
		updatedAt,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) TransitionToFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.AttemptStatus, detail string, retryCount int, nextRetryAt *time.Time, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_attempts
		 SET status = ?, error_detail = ?, retry_count = ?, next_retry_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		detail,
		retryCount,
		nextRetryAt,
		updatedAt,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ClearRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE billing_attempts
		 SET next_retry_at = NULL, updated_at = ?
		 WHERE id = ? AND status IN (?, ?) AND next_retry_at IS NOT NULL`,
		updatedAt,
		id,
		domain.AttemptStatusDeclined,
		domain.AttemptStatusError,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
