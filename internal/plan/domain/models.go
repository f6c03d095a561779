// Package domain contains the plan catalog consumed by the charge path.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var ErrPlanNotFound = errors.New("plan_not_found")

// Plan prices one recurring product. Amount is in the currency's minor unit.
type Plan struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	Code       string       `gorm:"type:text;not null;uniqueIndex"`
	Name       string       `gorm:"type:text;not null"`
	Amount     int64        `gorm:"not null"`
	Currency   string       `gorm:"type:char(3);not null"`
	PeriodDays int          `gorm:"not null"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Plan) TableName() string { return "plans" }

type Repository interface {
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) error
}
