package payout

import (
	"github.com/rubenoroz/closeframe-sub002/internal/payout/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/payout/repository"
	"github.com/rubenoroz/closeframe-sub002/internal/payout/service"
	"github.com/rubenoroz/closeframe-sub002/internal/providers/pdf"
	"github.com/rubenoroz/closeframe-sub002/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("payout.service",
	fx.Provide(repository.Provide),
	fx.Provide(
		func(g *ratelimit.PayoutGuard) domain.Guard { return g },
		func(p *pdf.Provider) domain.StatementRenderer { return p },
	),
	fx.Provide(service.NewService),
)
