package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/rubenoroz/closeframe-sub002/internal/config"
	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, plan *Plan) error
	ParkSortOrders(ctx context.Context, db *gorm.DB, names []string) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindByName(ctx context.Context, db *gorm.DB, name string) (*Plan, error)
	List(ctx context.Context, db *gorm.DB) ([]Plan, error)
}

type Service interface {
	GetByID(ctx context.Context, id snowflake.ID) (*Plan, error)
	GetByName(ctx context.Context, name string) (*Plan, error)
	List(ctx context.Context) ([]Plan, error)
	// FindByPriceRef returns the plan listing priceID, or nil if none does.
	FindByPriceRef(ctx context.Context, priceID string) (*Plan, error)
	// FreePlan returns the configured fallback plan, or nil if it does not exist.
	FreePlan(ctx context.Context) (*Plan, error)
	// Sync upserts every catalog plan by name. Re-applying a catalog is a no-op.
	Sync(ctx context.Context, catalog config.PlanCatalog) (int, error)
}

var (
	ErrPlanNotFound   = errors.New("plan_not_found")
	ErrInvalidCatalog = errors.New("invalid_plan_catalog")
)
