package pdf

import (
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
)

var Module = fx.Module("pdf",
	fx.Provide(New),
)

// Provider renders billing documents. It holds no state and is safe for
// concurrent use.
type Provider struct {
	issuer string
}

func New() *Provider {
	return &Provider{issuer: "Closeframe"}
}

// formatMoney renders minor units as "12.34 USD".
func formatMoney(amount int64, currency string) string {
	return decimal.New(amount, -2).StringFixed(2) + " " + strings.ToUpper(currency)
}
