package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, attempt *BillingAttempt) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingAttempt, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, gatewayTransactionID string) (*BillingAttempt, error)
	FindByReference(ctx context.Context, db *gorm.DB, reference string) (*BillingAttempt, error)
	FindDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]BillingAttempt, error)

	SetGatewayTransaction(ctx context.Context, db *gorm.DB, id snowflake.ID, gatewayTransactionID string, updatedAt time.Time) error
	TransitionToApproved(ctx context.Context, db *gorm.DB, id snowflake.ID, from AttemptStatus, updatedAt time.Time) (bool, error)
	TransitionToFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to AttemptStatus, detail string, retryCount int, nextRetryAt *time.Time, updatedAt time.Time) (bool, error)
	ClearRetry(ctx context.Context, db *gorm.DB, id snowflake.ID, updatedAt time.Time) (bool, error)
}
