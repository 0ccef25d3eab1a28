package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/rubenoroz/closeframe-sub002/internal/audit/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/cache"
	"github.com/rubenoroz/closeframe-sub002/internal/capability"
	"github.com/rubenoroz/closeframe-sub002/internal/clock"
	"github.com/rubenoroz/closeframe-sub002/internal/config"
	plandomain "github.com/rubenoroz/closeframe-sub002/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const planListTTL = 30 * time.Second

const listKey = "all"

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Cfg      config.Config
	Repo     plandomain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     plandomain.Repository
	auditSvc auditdomain.Service
	freeName string
	plans    cache.Cache[string, []plandomain.Plan]
}

func NewService(p Params) plandomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("plan.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
		freeName: strings.TrimSpace(p.Cfg.FreePlanName),
		plans:    cache.NewTTLCache[string, []plandomain.Plan](),
	}
}

func (s *Service) List(ctx context.Context) ([]plandomain.Plan, error) {
	if plans, ok := s.plans.Get(listKey); ok {
		return plans, nil
	}
	plans, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}
	s.plans.Set(listKey, plans, planListTTL)
	return plans, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*plandomain.Plan, error) {
	plans, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range plans {
		if plans[i].ID == id {
			p := plans[i]
			return &p, nil
		}
	}
	return nil, plandomain.ErrPlanNotFound
}

func (s *Service) GetByName(ctx context.Context, name string) (*plandomain.Plan, error) {
	name = strings.TrimSpace(name)
	plans, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range plans {
		if plans[i].Name == name {
			p := plans[i]
			return &p, nil
		}
	}
	return nil, plandomain.ErrPlanNotFound
}

func (s *Service) FindByPriceRef(ctx context.Context, priceID string) (*plandomain.Plan, error) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return nil, nil
	}
	plans, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range plans {
		if plans[i].HasPrice(priceID) {
			p := plans[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (s *Service) FreePlan(ctx context.Context) (*plandomain.Plan, error) {
	if s.freeName == "" {
		return nil, nil
	}
	p, err := s.GetByName(ctx, s.freeName)
	if err == plandomain.ErrPlanNotFound {
		return nil, nil
	}
	return p, err
}

func (s *Service) Sync(ctx context.Context, catalog config.PlanCatalog) (int, error) {
	if err := config.ValidatePlanCatalog(catalog); err != nil {
		return 0, fmt.Errorf("%w: %v", plandomain.ErrInvalidCatalog, err)
	}

	now := s.clock.Now()
	names := make([]string, 0, len(catalog.Plans))
	for _, def := range catalog.Plans {
		names = append(names, strings.TrimSpace(def.Name))
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.ParkSortOrders(ctx, tx, names); err != nil {
			return err
		}
		for _, def := range catalog.Plans {
			plan := toPlan(def)
			plan.ID = s.genID.Generate()
			plan.CreatedAt = now
			plan.UpdatedAt = now
			if err := s.repo.Upsert(ctx, tx, &plan); err != nil {
				return fmt.Errorf("upsert plan %s: %w", plan.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.plans.Purge()

	if s.auditSvc != nil {
		_ = s.auditSvc.Record(ctx, nil, auditdomain.Entry{
			Action:     auditdomain.ActionPlanCatalogSynced,
			TargetType: "plan_catalog",
			Metadata:   map[string]any{"plans": names},
		})
	}
	s.log.Info("plan catalog synced", zap.Int("plans", len(names)))
	return len(names), nil
}

func toPlan(def config.PlanDefinition) plandomain.Plan {
	cfg := plandomain.Config{
		Features: make(map[capability.Key]bool, len(def.Features)),
		Limits:   make(map[capability.Key]int64, len(def.Limits)),
	}
	for key, value := range def.Features {
		cfg.Features[capability.Key(key)] = value
	}
	for key, value := range def.Limits {
		cfg.Limits[capability.Key(key)] = value
	}

	displayName := strings.TrimSpace(def.DisplayName)
	if displayName == "" {
		displayName = def.Name
	}
	refs := make([]string, 0, len(def.PriceRefs))
	for _, ref := range def.PriceRefs {
		if ref = strings.TrimSpace(ref); ref != "" {
			refs = append(refs, ref)
		}
	}

	return plandomain.Plan{
		Name:        strings.TrimSpace(def.Name),
		DisplayName: displayName,
		SortOrder:   def.SortOrder,
		Config:      datatypes.NewJSONType(cfg),
		PriceRefs:   refs,
	}
}
