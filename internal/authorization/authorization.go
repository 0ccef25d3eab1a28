package authorization

import (
	"context"
	"errors"
)

const (
	ObjectEntitlement = "entitlement"
	ObjectPayout      = "payout"
	ObjectReferral    = "referral"
	ObjectAuditLog    = "audit_log"
	ObjectPlanCatalog = "plan_catalog"
)

const (
	ActionEntitlementBypass = "entitlement.bypass"
	ActionPayoutSettle      = "payout.settle"
	ActionReferralEnroll    = "referral.enroll"
	ActionAuditLogView      = "audit_log.view"
	ActionPlanCatalogSync   = "plan_catalog.sync"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

// Service answers role-based permission checks.
type Service interface {
	// Authorize returns ErrForbidden when role may not perform action on object.
	Authorize(ctx context.Context, actorID string, role string, object string, action string) error
	// Can reports the decision without auditing denials.
	Can(role string, object string, action string) (bool, error)
}
