// Package domain defines the gateway webhook wire format and the pending
// payment registry used to reconcile one-shot payment-link checkouts.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrDuplicateLink    = errors.New("duplicate_payment_link")
)

// EventTransactionUpdated is the only event type this engine acts on. All
// other event types are acknowledged and dropped.
const EventTransactionUpdated = "transaction.updated"

// Event is the gateway webhook envelope.
type Event struct {
	Event     string    `json:"event"`
	Data      EventData `json:"data"`
	SentAt    int64     `json:"sent_at"`
	Timestamp int64     `json:"timestamp"`
}

type EventData struct {
	Transaction EventTransaction `json:"transaction"`
}

// EventTransaction is the gateway's asynchronous view of a charge. For
// payment-link checkouts PaymentLinkID is set and Reference is gateway
// generated; for recurring charges Reference carries our idempotency key.
type EventTransaction struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Reference     string `json:"reference"`
	PaymentLinkID string `json:"payment_link_id"`
	PaymentMethod string `json:"payment_method_type"`
}

// PendingPayment registers a payment-link checkout awaiting its webhook.
// The row is consumed exactly once when the approved event arrives.
type PendingPayment struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	PaymentLinkID string       `gorm:"type:text;not null;uniqueIndex"`
	SubscriberID  snowflake.ID `gorm:"not null;index"`
	PlanID        string       `gorm:"type:text;not null"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ExpiresAt     time.Time    `gorm:"not null;index"`
}

// TableName sets the database table name.
func (PendingPayment) TableName() string { return "pending_payments" }
