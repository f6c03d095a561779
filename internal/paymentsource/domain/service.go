package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

var (
	// ErrNoPaymentMethod means no active source exists for the subscriber.
	// Terminal for the charge path: only re-tokenization clears it.
	ErrNoPaymentMethod = errors.New("no_payment_method")
	// ErrTokenization covers gateway rejection of the card token, a missing
	// acceptance token, or a network failure during the exchange. The call
	// is user-initiated and never retried automatically.
	ErrTokenization = errors.New("tokenization_failed")

	ErrSourceNotFound      = errors.New("payment_source_not_found")
	ErrSourceNotCancelled  = errors.New("payment_source_not_cancelled")
	ErrInvalidSubscriber   = errors.New("invalid_subscriber")
	ErrMissingCardToken    = errors.New("missing_card_token")
	ErrMissingCustomerMail = errors.New("missing_customer_email")
)

type CreateFromTokenRequest struct {
	SubscriberID  snowflake.ID `json:"subscriber_id"`
	CardToken     string       `json:"card_token"`
	CustomerEmail string       `json:"customer_email"`
}

type Service interface {
	CreateFromToken(ctx context.Context, req CreateFromTokenRequest) (*PaymentSource, error)
	FindActive(ctx context.Context, subscriberID snowflake.ID) (*PaymentSource, error)
	Cancel(ctx context.Context, subscriberID snowflake.ID) error
	Reactivate(ctx context.Context, subscriberID snowflake.ID) error
}
