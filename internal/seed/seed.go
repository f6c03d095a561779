// Package seed bootstraps a starter plan catalog so a fresh install can take
// subscriptions without manual setup.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/rebill/internal/plan/domain"
	"gorm.io/gorm"
)

var defaultPlans = []plandomain.Plan{
	{Code: "plan_basic", Name: "Basic", Amount: 990, Currency: "USD", PeriodDays: 30},
	{Code: "plan_gold", Name: "Gold", Amount: 4990, Currency: "USD", PeriodDays: 30},
	{Code: "plan_gold_annual", Name: "Gold Annual", Amount: 49900, Currency: "USD", PeriodDays: 365},
}

// EnsureDefaultPlans inserts the starter catalog when the plans table is
// empty. An existing catalog is left untouched.
func EnsureDefaultPlans(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&plandomain.Plan{}).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		for _, plan := range defaultPlans {
			plan.ID = node.Generate()
			if err := tx.Create(&plan).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
