// Package domain contains persistence models for tokenized payment sources.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SourceStatus is the lifecycle state of a stored payment source.
type SourceStatus string

const (
	SourceStatusActive    SourceStatus = "active"
	SourceStatusCancelled SourceStatus = "cancelled"
)

// PaymentSource is the durable reference to a tokenized card. Rows are never
// hard-deleted; cancellation flips status and keeps the audit trail.
type PaymentSource struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	SubscriberID    snowflake.ID `gorm:"not null;index"`
	GatewaySourceID int64        `gorm:"not null"`
	CustomerEmail   string       `gorm:"type:text;not null"`
	CardBrand       string       `gorm:"type:text"`
	CardLastFour    string       `gorm:"type:text"`
	Status          SourceStatus `gorm:"type:text;not null"`
	CreatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (PaymentSource) TableName() string { return "payment_sources" }
