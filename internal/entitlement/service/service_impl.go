package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/rubenoroz/closeframe-sub002/internal/account/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/authorization"
	"github.com/rubenoroz/closeframe-sub002/internal/capability"
	"github.com/rubenoroz/closeframe-sub002/internal/entitlement/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/observability/logger"
	plandomain "github.com/rubenoroz/closeframe-sub002/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	AccountRepo accountdomain.Repository
	PlanSvc     plandomain.Service
	AuthzSvc    authorization.Service `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	accountRepo accountdomain.Repository
	planSvc     plandomain.Service
	authzSvc    authorization.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("entitlement.service"),
		accountRepo: p.AccountRepo,
		planSvc:     p.PlanSvc,
		authzSvc:    p.AuthzSvc,
	}
}

func (s *Service) Resolve(ctx context.Context, accountID snowflake.ID, key capability.Key) (domain.Access, error) {
	def, err := capability.Lookup(key)
	if err != nil {
		return domain.Access{}, err
	}

	resolve, err := s.resolver(ctx, accountID)
	if err != nil {
		return domain.Access{}, err
	}
	return resolve(def), nil
}

func (s *Service) ResolveAll(ctx context.Context, accountID snowflake.ID) (map[capability.Key]domain.Access, error) {
	resolve, err := s.resolver(ctx, accountID)
	if err != nil {
		return nil, err
	}

	defs := capability.All()
	out := make(map[capability.Key]domain.Access, len(defs))
	for _, def := range defs {
		out[def.Key] = resolve(def)
	}
	return out, nil
}

// resolver loads the account and its plan once and returns the per-capability
// merge over them.
func (s *Service) resolver(ctx context.Context, accountID snowflake.ID) (func(capability.Definition) domain.Access, error) {
	account, err := s.accountRepo.FindByID(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return func(capability.Definition) domain.Access { return domain.Access{} }, nil
	}

	if s.bypasses(ctx, account) {
		return domain.Bypass, nil
	}

	var plan *plandomain.Plan
	if account.PlanID != nil {
		plan, err = s.planSvc.GetByID(ctx, *account.PlanID)
		if err != nil && !errors.Is(err, plandomain.ErrPlanNotFound) {
			return nil, err
		}
		if plan == nil {
			logger.WithContext(ctx, s.log).Warn("account references missing plan",
				zap.String("account_id", account.ID.String()),
				zap.String("plan_id", account.PlanID.String()),
			)
		}
	}

	overrides := account.FeatureOverrides.Data()
	return func(def capability.Definition) domain.Access {
		return domain.Resolve(def, overrides, plan)
	}, nil
}

func (s *Service) bypasses(ctx context.Context, account *accountdomain.Account) bool {
	if s.authzSvc == nil || account.Role == "" {
		return false
	}
	ok, err := s.authzSvc.Can(account.Role, authorization.ObjectEntitlement, authorization.ActionEntitlementBypass)
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("bypass check failed", zap.Error(err))
		return false
	}
	return ok
}
