package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/rubenoroz/closeframe-sub002/internal/account"
	"github.com/rubenoroz/closeframe-sub002/internal/audit"
	"github.com/rubenoroz/closeframe-sub002/internal/authorization"
	"github.com/rubenoroz/closeframe-sub002/internal/clock"
	"github.com/rubenoroz/closeframe-sub002/internal/config"
	"github.com/rubenoroz/closeframe-sub002/internal/entitlement"
	"github.com/rubenoroz/closeframe-sub002/internal/migration"
	"github.com/rubenoroz/closeframe-sub002/internal/observability"
	"github.com/rubenoroz/closeframe-sub002/internal/payout"
	"github.com/rubenoroz/closeframe-sub002/internal/plan"
	"github.com/rubenoroz/closeframe-sub002/internal/processor"
	"github.com/rubenoroz/closeframe-sub002/internal/providers/pdf"
	"github.com/rubenoroz/closeframe-sub002/internal/ratelimit"
	"github.com/rubenoroz/closeframe-sub002/internal/referral"
	"github.com/rubenoroz/closeframe-sub002/internal/server"
	"github.com/rubenoroz/closeframe-sub002/internal/subscription"
	"github.com/rubenoroz/closeframe-sub002/internal/webhook"
	"github.com/rubenoroz/closeframe-sub002/pkg/db"
	"go.uber.org/fx"
)

// The API process serves HTTP only; background jobs run in apps/scheduler.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,

		authorization.Module,
		audit.Module,
		account.Module,
		plan.Module,
		entitlement.Module,
		referral.Module,
		processor.Module,
		pdf.Module,
		payout.Module,
		subscription.Module,
		webhook.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
