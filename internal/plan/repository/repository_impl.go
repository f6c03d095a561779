package repository

import (
	"context"

	"github.com/smallbiznis/rebill/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Plan, error) {
	var item domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, amount, currency, period_days, created_at
		 FROM plans
		 WHERE code = ?
		 LIMIT 1`,
		code,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, domain.ErrPlanNotFound
	}
	return &item, nil
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (id, code, name, amount, currency, period_days, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.Code,
		plan.Name,
		plan.Amount,
		plan.Currency,
		plan.PeriodDays,
		plan.CreatedAt,
	).Error
}
