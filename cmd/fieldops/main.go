package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fieldops/internal/audit"
	"github.com/smallbiznis/fieldops/internal/authorization"
	"github.com/smallbiznis/fieldops/internal/clock"
	"github.com/smallbiznis/fieldops/internal/config"
	"github.com/smallbiznis/fieldops/internal/inventory"
	"github.com/smallbiznis/fieldops/internal/invoice"
	"github.com/smallbiznis/fieldops/internal/jobprice"
	"github.com/smallbiznis/fieldops/internal/loan"
	"github.com/smallbiznis/fieldops/internal/migration"
	"github.com/smallbiznis/fieldops/internal/observability"
	"github.com/smallbiznis/fieldops/internal/payroll"
	"github.com/smallbiznis/fieldops/internal/server"
	"github.com/smallbiznis/fieldops/internal/settlementlock"
	"github.com/smallbiznis/fieldops/internal/task"
	"github.com/smallbiznis/fieldops/internal/user"
	"github.com/smallbiznis/fieldops/pkg/db"
	"github.com/smallbiznis/fieldops/pkg/validate"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		validate.Module,
		settlementlock.Module,

		// Domains
		audit.Module,
		authorization.Module,
		user.Module,
		jobprice.Module,
		inventory.Module,
		task.Module,
		loan.Module,
		payroll.Module,
		invoice.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
