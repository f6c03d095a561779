package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, source *PaymentSource) error
	FindActiveBySubscriber(ctx context.Context, db *gorm.DB, subscriberID snowflake.ID) (*PaymentSource, error)
	FindLatestBySubscriber(ctx context.Context, db *gorm.DB, subscriberID snowflake.ID) (*PaymentSource, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to SourceStatus, updatedAt time.Time) (bool, error)
}
