package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rubenoroz/closeframe-sub002/internal/account/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const accountColumns = `id, email, name, role, plan_id, feature_overrides, processor_customer_id,
	processor_subscription_id, price_id, current_period_end, scheduled_plan_id, referred_by_code,
	created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, a *domain.Account) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		strings.ToLower(strings.TrimSpace(a.Email)),
		a.Name,
		a.Role,
		a.PlanID,
		a.FeatureOverrides,
		a.ProcessorCustomerID,
		a.ProcessorSubscriptionID,
		a.PriceID,
		a.CurrentPeriodEnd,
		a.ScheduledPlanID,
		a.ReferredByCode,
		a.CreatedAt,
		a.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	var a domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`,
		id,
	).Scan(&a).Error
	if err != nil {
		return nil, err
	}
	if a.ID == 0 {
		return nil, nil
	}
	return &a, nil
}

func (r *repo) FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*domain.Account, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil, nil
	}
	var a domain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT `+accountColumns+` FROM accounts WHERE processor_subscription_id = ? LIMIT 1`,
		subscriptionID,
	).Scan(&a).Error
	if err != nil {
		return nil, err
	}
	if a.ID == 0 {
		return nil, nil
	}
	return &a, nil
}

func (r *repo) SetCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts SET processor_customer_id = ?, updated_at = ? WHERE id = ?`,
		customerID, now, id,
	).Error
}

func (r *repo) ApplySubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, f domain.SubscriptionFields, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts SET
			processor_customer_id = ?,
			processor_subscription_id = ?,
			price_id = ?,
			current_period_end = ?,
			plan_id = ?,
			scheduled_plan_id = NULL,
			updated_at = ?
		 WHERE id = ?`,
		f.CustomerID, f.SubscriptionID, f.PriceID, f.PeriodEnd, f.PlanID, now, id,
	).Error
}

func (r *repo) UpdatePeriodEnd(ctx context.Context, db *gorm.DB, id snowflake.ID, periodEnd time.Time, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts SET current_period_end = ?, updated_at = ? WHERE id = ?`,
		periodEnd, now, id,
	).Error
}

func (r *repo) UpdatePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, planID snowflake.ID, priceID string, periodEnd *time.Time, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts SET
			plan_id = ?,
			price_id = ?,
			current_period_end = COALESCE(?, current_period_end),
			scheduled_plan_id = NULL,
			updated_at = ?
		 WHERE id = ?`,
		planID, priceID, periodEnd, now, id,
	).Error
}

func (r *repo) SetScheduledPlan(ctx context.Context, db *gorm.DB, id snowflake.ID, planID *snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts SET scheduled_plan_id = ?, updated_at = ? WHERE id = ?`,
		planID, now, id,
	).Error
}

func (r *repo) ClearSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, subscriptionID string, fallbackPlanID *snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE accounts SET
			plan_id = ?,
			processor_subscription_id = NULL,
			price_id = NULL,
			current_period_end = NULL,
			scheduled_plan_id = NULL,
			updated_at = ?
		 WHERE id = ? AND processor_subscription_id = ?`,
		fallbackPlanID, now, id, subscriptionID,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) DetachSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, subscriptionID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts SET
			processor_subscription_id = NULL,
			scheduled_plan_id = NULL,
			updated_at = ?
		 WHERE id = ? AND processor_subscription_id = ?`,
		now, id, subscriptionID,
	).Error
}

func (r *repo) SetOverrides(ctx context.Context, db *gorm.DB, id snowflake.ID, overrides domain.Overrides, now time.Time) error {
	if overrides == nil {
		overrides = domain.Overrides{}
	}
	return db.WithContext(ctx).Exec(
		`UPDATE accounts SET feature_overrides = ?, updated_at = ? WHERE id = ?`,
		datatypes.NewJSONType(overrides), now, id,
	).Error
}
