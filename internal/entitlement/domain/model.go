package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/rubenoroz/closeframe-sub002/internal/account/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/capability"
	plandomain "github.com/rubenoroz/closeframe-sub002/internal/plan/domain"
)

// Access is the effective grant for one capability. Limit is nil for boolean
// capabilities and for grants that come from the global default.
type Access struct {
	Allowed bool   `json:"allowed"`
	Limit   *int64 `json:"limit"`
}

// Unlimited reports whether the grant carries the unlimited sentinel.
func (a Access) Unlimited() bool {
	return a.Limit != nil && *a.Limit == capability.Unlimited
}

type Service interface {
	Resolve(ctx context.Context, accountID snowflake.ID, key capability.Key) (Access, error)
	ResolveAll(ctx context.Context, accountID snowflake.ID) (map[capability.Key]Access, error)
}

// Resolve merges account overrides, the plan config and the capability
// default. An explicit override wins, then any plan entry, then the default.
func Resolve(def capability.Definition, overrides accountdomain.Overrides, plan *plandomain.Plan) Access {
	if o, ok := overrides[def.Key]; ok && o.IsSet() {
		if o.Bool != nil {
			return Access{Allowed: *o.Bool}
		}
		limit := *o.Number
		return Access{Allowed: true, Limit: &limit}
	}

	if plan == nil {
		return Access{Allowed: def.Default}
	}

	cfg := plan.Config.Data()
	if limit, ok := cfg.Limits[def.Key]; ok {
		return Access{Allowed: limit != 0, Limit: &limit}
	}
	if allowed, ok := cfg.Features[def.Key]; ok {
		return Access{Allowed: allowed}
	}
	return Access{Allowed: def.Default}
}

// Bypass is the grant operators receive for every capability.
func Bypass(def capability.Definition) Access {
	if def.Kind == capability.KindLimit {
		limit := capability.Unlimited
		return Access{Allowed: true, Limit: &limit}
	}
	return Access{Allowed: true}
}
