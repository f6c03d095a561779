package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rebill/internal/paymentsource/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, source *domain.PaymentSource) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_sources (
			id, subscriber_id, gateway_source_id, customer_email,
			card_brand, card_last_four, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		source.ID,
		source.SubscriberID,
		source.GatewaySourceID,
		source.CustomerEmail,
		source.CardBrand,
		source.CardLastFour,
		source.Status,
		source.CreatedAt,
		source.UpdatedAt,
	).Error
}

func (r *repo) FindActiveBySubscriber(ctx context.Context, db *gorm.DB, subscriberID snowflake.ID) (*domain.PaymentSource, error) {
	return r.findOne(ctx, db,
		`SELECT id, subscriber_id, gateway_source_id, customer_email,
			card_brand, card_last_four, status, created_at, updated_at
		 FROM payment_sources
		 WHERE subscriber_id = ? AND status = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		subscriberID, domain.SourceStatusActive,
	)
}

func (r *repo) FindLatestBySubscriber(ctx context.Context, db *gorm.DB, subscriberID snowflake.ID) (*domain.PaymentSource, error) {
	return r.findOne(ctx, db,
		`SELECT id, subscriber_id, gateway_source_id, customer_email,
			card_brand, card_last_four, status, created_at, updated_at
		 FROM payment_sources
		 WHERE subscriber_id = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		subscriberID,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.PaymentSource, error) {
	var item domain.PaymentSource
	err := db.WithContext(ctx).Raw(query, args...).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.SourceStatus, updatedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_sources
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		to,
		updatedAt,
		id,
		from,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
