package processor

import (
	"github.com/rubenoroz/closeframe-sub002/internal/processor/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("processor",
	fx.Provide(stripe.NewGateway),
)
