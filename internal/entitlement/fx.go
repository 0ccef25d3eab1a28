package entitlement

import (
	"github.com/rubenoroz/closeframe-sub002/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement.service",
	fx.Provide(service.NewService),
)
