package authorization

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

func newTestService(t *testing.T) Service {
	t.Helper()
	enforcer, err := NewMemoryEnforcer()
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer})
}

func TestOperatorCanBypassEntitlements(t *testing.T) {
	svc := newTestService(t)

	ok, err := svc.Can("operator", ObjectEntitlement, ActionEntitlementBypass)
	if err != nil || !ok {
		t.Fatalf("expected operator bypass, got %v %v", ok, err)
	}
	ok, err = svc.Can("member", ObjectEntitlement, ActionEntitlementBypass)
	if err != nil || ok {
		t.Fatalf("expected member denied, got %v %v", ok, err)
	}
}

func TestAdminInheritsOperator(t *testing.T) {
	svc := newTestService(t)

	for _, check := range [][2]string{
		{ObjectEntitlement, ActionEntitlementBypass},
		{ObjectPayout, ActionPayoutSettle},
		{ObjectPlanCatalog, ActionPlanCatalogSync},
	} {
		ok, err := svc.Can("Admin", check[0], check[1])
		if err != nil || !ok {
			t.Fatalf("expected admin allowed on %v, got %v %v", check, ok, err)
		}
	}

	ok, _ := svc.Can("operator", ObjectPlanCatalog, ActionPlanCatalogSync)
	if ok {
		t.Fatalf("operator must not sync the catalog")
	}
}

func TestAuthorizeReturnsForbidden(t *testing.T) {
	svc := newTestService(t)
	err := svc.Authorize(context.Background(), "42", "member", ObjectPayout, ActionPayoutSettle)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.Can("", ObjectPayout, ActionPayoutSettle); !errors.Is(err, ErrInvalidActor) {
		t.Fatalf("expected invalid actor, got %v", err)
	}
}
