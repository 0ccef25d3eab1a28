package subscription

import (
	"github.com/rubenoroz/closeframe-sub002/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.service",
	fx.Provide(service.NewService),
)
