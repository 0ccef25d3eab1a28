package webhook

import (
	"github.com/rubenoroz/closeframe-sub002/internal/config"
	stripeadapter "github.com/rubenoroz/closeframe-sub002/internal/webhook/adapters/stripe"
	"github.com/rubenoroz/closeframe-sub002/internal/webhook/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/webhook/repository"
	"github.com/rubenoroz/closeframe-sub002/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config) domain.Parser { return stripeadapter.NewAdapter(cfg) }),
	fx.Provide(service.NewService),
)
