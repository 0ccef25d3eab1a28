package referral

import (
	"context"

	"github.com/rubenoroz/closeframe-sub002/internal/referral/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/referral/repository"
	"github.com/rubenoroz/closeframe-sub002/internal/referral/service"
	"go.uber.org/fx"
)

var Module = fx.Module("referral.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(registerTemplates),
)

func registerTemplates(lc fx.Lifecycle, svc domain.Service) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.EnsureDefaultTemplates(ctx)
		},
	})
}
