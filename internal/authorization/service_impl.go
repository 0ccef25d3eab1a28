package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/rubenoroz/closeframe-sub002/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer builds a casbin enforcer whose policies persist in casbin_rule.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	return newEnforcer(adapter)
}

// NewMemoryEnforcer builds an enforcer without persistence, seeded with the
// default policies.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	return newEnforcer(nil)
}

func newEnforcer(adapter *gormadapter.Adapter) (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}

	var enforcer *casbin.SyncedEnforcer
	if adapter != nil {
		enforcer, err = casbin.NewSyncedEnforcer(m, adapter)
	} else {
		enforcer, err = casbin.NewSyncedEnforcer(m)
	}
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(adapter != nil)
	enforcer.EnableAutoBuildRoleLinks(true)
	if adapter != nil {
		if err := enforcer.LoadPolicy(); err != nil {
			return nil, err
		}
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actorID string, role string, object string, action string) error {
	allowed, err := s.Can(role, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actorID, role, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) Can(role string, object string, action string) (bool, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return false, ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return false, ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return false, ErrInvalidAction
	}
	return s.enforcer.Enforce(subject(role), object, action)
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actorID string, role string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	var actor *string
	if actorID = strings.TrimSpace(actorID); actorID != "" {
		actor = &actorID
	}
	if err := s.auditSvc.Record(ctx, nil, auditdomain.Entry{
		ActorType:  auditdomain.ActorTypeAccount,
		ActorID:    actor,
		Action:     auditdomain.ActionAccessDenied,
		TargetType: object,
		Metadata: map[string]any{
			"role":   role,
			"action": action,
		},
	}); err != nil {
		s.log.Warn("failed to audit denied access", zap.Error(err))
	}
}

func subject(role string) string {
	return fmt.Sprintf("role:%s", role)
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Operators run the out-of-band payout flow and see everything.
		{"role:operator", ObjectEntitlement, ActionEntitlementBypass},
		{"role:operator", ObjectPayout, ActionPayoutSettle},
		{"role:operator", ObjectReferral, ActionReferralEnroll},
		{"role:operator", ObjectAuditLog, ActionAuditLogView},

		{"role:admin", ObjectPlanCatalog, ActionPlanCatalogSync},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	// admin inherits every operator permission
	if _, err := enforcer.AddGroupingPolicy("role:admin", "role:operator"); err != nil {
		return err
	}
	return nil
}
