package plan

import (
	"context"

	"github.com/rubenoroz/closeframe-sub002/internal/config"
	"github.com/rubenoroz/closeframe-sub002/internal/plan/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/plan/repository"
	"github.com/rubenoroz/closeframe-sub002/internal/plan/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("plan.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Invoke(syncCatalog),
)

// syncCatalog applies the catalog on start and again on every hot reload.
func syncCatalog(lc fx.Lifecycle, svc domain.Service, holder *config.PlanCatalogHolder, log *zap.Logger) {
	log = log.Named("plan.sync")
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := svc.Sync(ctx, holder.Get()); err != nil {
				return err
			}
			holder.Subscribe(func(catalog config.PlanCatalog) {
				if _, err := svc.Sync(context.Background(), catalog); err != nil {
					log.Error("plan catalog reload failed", zap.Error(err))
				}
			})
			return nil
		},
	})
}
