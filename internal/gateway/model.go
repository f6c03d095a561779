package gateway

import (
	"context"
	"errors"
)

// Transaction statuses as reported by the gateway, on both the synchronous
// response and the webhook push.
const (
	StatusApproved = "APPROVED"
	StatusDeclined = "DECLINED"
	StatusError    = "ERROR"
	StatusPending  = "PENDING"
	StatusVoided   = "VOIDED"
)

var (
	ErrUnavailable = errors.New("gateway_unavailable")
	ErrRejected    = errors.New("gateway_rejected_request")
)

// Source is a durable tokenized-card reference issued by the gateway.
type Source struct {
	ID       int64
	Status   string
	Brand    string
	LastFour string
}

// SourceRequest exchanges a one-time card token for a durable source.
type SourceRequest struct {
	Type            string `json:"type"`
	Token           string `json:"token"`
	CustomerEmail   string `json:"customer_email"`
	AcceptanceToken string `json:"acceptance_token"`
}

// Transaction is the gateway's view of one charge.
type Transaction struct {
	ID        string
	Status    string
	Reference string
}

// TransactionRequest charges a stored source.
type TransactionRequest struct {
	AmountInCents   int64  `json:"amount_in_cents"`
	Currency        string `json:"currency"`
	CustomerEmail   string `json:"customer_email"`
	Reference       string `json:"reference"`
	PaymentSourceID int64  `json:"payment_source_id"`
	Recurrent       bool   `json:"recurrent"`
}

// API is the outbound surface consumed by the payment-source and charge
// services. *Client implements it; tests substitute fakes.
type API interface {
	AcceptanceToken(ctx context.Context) (string, error)
	CreatePaymentSource(ctx context.Context, req SourceRequest) (*Source, error)
	CreateTransaction(ctx context.Context, req TransactionRequest) (*Transaction, error)
}
