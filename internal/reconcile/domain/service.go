package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Service reconciles asynchronous gateway events against the attempt ledger.
type Service interface {
	// Ingest verifies and applies one webhook delivery. Recognized
	// duplicates and events this engine does not act on return nil so the
	// gateway stops redelivering.
	Ingest(ctx context.Context, payload []byte, headers http.Header) error

	// RegisterPendingPayment records a payment-link checkout so the
	// approved webhook can activate the subscription later.
	RegisterPendingPayment(ctx context.Context, paymentLinkID string, subscriberID snowflake.ID, planID string) error
}

type Repository interface {
	InsertPending(ctx context.Context, db *gorm.DB, pending *PendingPayment) error
	// ConsumePending deletes the registration for the link and reports
	// whether this caller removed it. Expired registrations are never
	// consumed.
	ConsumePending(ctx context.Context, db *gorm.DB, paymentLinkID string, now time.Time) (*PendingPayment, bool, error)
}
