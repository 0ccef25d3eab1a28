package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rubenoroz/closeframe-sub002/internal/capability"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RoleMember   = "member"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

var ErrAccountNotFound = errors.New("account_not_found")

// Override is one entry of an account's feature override map. A JSON null
// (both fields nil) is an explicit "unset" and falls through to the plan.
type Override struct {
	Bool   *bool
	Number *int64
}

func (o Override) IsSet() bool { return o.Bool != nil || o.Number != nil }

func (o *Override) UnmarshalJSON(b []byte) error {
	*o = Override{}
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
	case bool:
		o.Bool = &v
	case float64:
		n := int64(v)
		o.Number = &n
	default:
		return errors.New("override must be boolean, number or null")
	}
	return nil
}

func (o Override) MarshalJSON() ([]byte, error) {
	switch {
	case o.Bool != nil:
		return json.Marshal(*o.Bool)
	case o.Number != nil:
		return json.Marshal(*o.Number)
	default:
		return []byte("null"), nil
	}
}

type Overrides map[capability.Key]Override

type Account struct {
	ID                      snowflake.ID                  `gorm:"primaryKey" json:"id"`
	Email                   string                        `json:"email"`
	Name                    string                        `json:"name"`
	Role                    string                        `json:"role"`
	PlanID                  *snowflake.ID                 `json:"plan_id,omitempty"`
	FeatureOverrides        datatypes.JSONType[Overrides] `json:"feature_overrides"`
	ProcessorCustomerID     *string                       `json:"processor_customer_id,omitempty"`
	ProcessorSubscriptionID *string                       `json:"processor_subscription_id,omitempty"`
	PriceID                 *string                       `json:"price_id,omitempty"`
	CurrentPeriodEnd        *time.Time                    `json:"current_period_end,omitempty"`
	ScheduledPlanID         *snowflake.ID                 `json:"scheduled_plan_id,omitempty"`
	ReferredByCode          *string                       `json:"referred_by_code,omitempty"`
	CreatedAt               time.Time                     `json:"created_at"`
	UpdatedAt               time.Time                     `json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

func (a *Account) HasSubscription() bool {
	return a != nil && a.ProcessorSubscriptionID != nil && *a.ProcessorSubscriptionID != ""
}

// SubscriptionFields is the set written when the processor confirms a
// subscription. It is applied in a single UPDATE.
type SubscriptionFields struct {
	CustomerID     string
	SubscriptionID string
	PriceID        string
	PeriodEnd      time.Time
	PlanID         snowflake.ID
}

// Repository exposes narrow, field-level writes so webhook redelivery does
// not rewrite whole rows.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, account *Account) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Account, error)
	FindBySubscriptionID(ctx context.Context, db *gorm.DB, subscriptionID string) (*Account, error)
	SetCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, customerID string, now time.Time) error
	ApplySubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, fields SubscriptionFields, now time.Time) error
	UpdatePeriodEnd(ctx context.Context, db *gorm.DB, id snowflake.ID, periodEnd time.Time, now time.Time) error
	UpdatePlan(ctx context.Context, db *gorm.DB, id snowflake.ID, planID snowflake.ID, priceID string, periodEnd *time.Time, now time.Time) error
	SetScheduledPlan(ctx context.Context, db *gorm.DB, id snowflake.ID, planID *snowflake.ID, now time.Time) error
	// ClearSubscription resets the subscription fields only while the account
	// still holds subscriptionID, and returns whether a row changed.
	ClearSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, subscriptionID string, fallbackPlanID *snowflake.ID, now time.Time) (bool, error)
	// DetachSubscription drops a stale subscription reference without touching
	// the plan.
	DetachSubscription(ctx context.Context, db *gorm.DB, id snowflake.ID, subscriptionID string, now time.Time) error
	SetOverrides(ctx context.Context, db *gorm.DB, id snowflake.ID, overrides Overrides, now time.Time) error
}
