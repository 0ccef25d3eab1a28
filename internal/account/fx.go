package account

import (
	"github.com/rubenoroz/closeframe-sub002/internal/account/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("account.repository",
	fx.Provide(repository.Provide),
)
