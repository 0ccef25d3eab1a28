package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/rubenoroz/closeframe-sub002/internal/account"
	"github.com/rubenoroz/closeframe-sub002/internal/audit"
	"github.com/rubenoroz/closeframe-sub002/internal/clock"
	"github.com/rubenoroz/closeframe-sub002/internal/config"
	"github.com/rubenoroz/closeframe-sub002/internal/observability"
	"github.com/rubenoroz/closeframe-sub002/internal/payout"
	"github.com/rubenoroz/closeframe-sub002/internal/processor"
	"github.com/rubenoroz/closeframe-sub002/internal/providers/pdf"
	"github.com/rubenoroz/closeframe-sub002/internal/ratelimit"
	"github.com/rubenoroz/closeframe-sub002/internal/referral"
	"github.com/rubenoroz/closeframe-sub002/internal/scheduler"
	"github.com/rubenoroz/closeframe-sub002/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,

		// Domain services required by scheduler
		audit.Module,
		account.Module,
		referral.Module,
		processor.Module,
		pdf.Module,
		payout.Module,

		// No server module!
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
