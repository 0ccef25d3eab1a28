package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/rubenoroz/closeframe-sub002/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO plans (id, name, display_name, sort_order, config, price_refs, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name) DO UPDATE SET
			display_name = excluded.display_name,
			sort_order = excluded.sort_order,
			config = excluded.config,
			price_refs = excluded.price_refs,
			updated_at = excluded.updated_at`,
		plan.ID,
		plan.Name,
		plan.DisplayName,
		plan.SortOrder,
		plan.Config,
		plan.PriceRefs,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error
}

// ParkSortOrders moves the named plans to negative sort orders so a catalog
// that swaps two tiers does not trip the unique constraint mid-sync.
func (r *repo) ParkSortOrders(ctx context.Context, db *gorm.DB, names []string) error {
	if len(names) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE plans SET sort_order = -1000000 - sort_order WHERE name IN ? AND sort_order >= 0`,
		names,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, display_name, sort_order, config, price_refs, created_at, updated_at
		 FROM plans WHERE id = ?`,
		id,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) FindByName(ctx context.Context, db *gorm.DB, name string) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, display_name, sort_order, config, price_refs, created_at, updated_at
		 FROM plans WHERE name = ?`,
		strings.TrimSpace(name),
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]domain.Plan, error) {
	var plans []domain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, display_name, sort_order, config, price_refs, created_at, updated_at
		 FROM plans ORDER BY sort_order ASC`,
	).Scan(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}
