package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrAttemptNotFound   = errors.New("billing_attempt_not_found")
	ErrAttemptTerminal   = errors.New("billing_attempt_terminal")
	ErrInvalidAttempt    = errors.New("invalid_billing_attempt")
	ErrInvalidFailStatus = errors.New("invalid_failure_status")
)

type OpenAttemptRequest struct {
	SubscriberID snowflake.ID
	PlanID       string
	Amount       int64
	Currency     string
	Reference    string
	RetryCount   int
}

type FailAttemptRequest struct {
	To          AttemptStatus // declined or error
	Detail      string
	RetryCount  int
	NextRetryAt *time.Time // nil means no further retry: terminal failure
}

type Service interface {
	Open(ctx context.Context, req OpenAttemptRequest) (*BillingAttempt, error)
	AttachTransaction(ctx context.Context, id snowflake.ID, gatewayTransactionID string) error

	// Approve moves the attempt to approved. Returns true when this caller
	// performed the transition; false when another writer already approved
	// it or the attempt is terminally failed (logged for inspection).
	Approve(ctx context.Context, id snowflake.ID) (bool, error)

	// Fail records a failure outcome. Only a pending attempt transitions;
	// an attempt already failed by the other path no-ops.
	Fail(ctx context.Context, id snowflake.ID, req FailAttemptRequest) (bool, error)

	// ConsumeRetry clears next_retry_at so a due attempt is handed to
	// exactly one sweep cycle. Returns false when another sweeper won.
	ConsumeRetry(ctx context.Context, id snowflake.ID) (bool, error)

	GetByID(ctx context.Context, id snowflake.ID) (*BillingAttempt, error)
	FindByTransactionID(ctx context.Context, gatewayTransactionID string) (*BillingAttempt, error)

	// FindByReference resolves an attempt by its idempotency reference, the
	// one identifier a webhook carries even when the synchronous response
	// never delivered a transaction id.
	FindByReference(ctx context.Context, reference string) (*BillingAttempt, error)
	FindDueRetries(ctx context.Context, now time.Time, limit int) ([]BillingAttempt, error)
}
