package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/rebill/internal/charge"
	"github.com/smallbiznis/rebill/internal/clock"
	"github.com/smallbiznis/rebill/internal/config"
	"github.com/smallbiznis/rebill/internal/gateway"
	"github.com/smallbiznis/rebill/internal/ledger"
	"github.com/smallbiznis/rebill/internal/logger"
	"github.com/smallbiznis/rebill/internal/migration"
	"github.com/smallbiznis/rebill/internal/notification"
	obsmetrics "github.com/smallbiznis/rebill/internal/observability/metrics"
	"github.com/smallbiznis/rebill/internal/paymentsource"
	"github.com/smallbiznis/rebill/internal/plan"
	"github.com/smallbiznis/rebill/internal/reconcile"
	"github.com/smallbiznis/rebill/internal/scheduler"
	"github.com/smallbiznis/rebill/internal/server"
	"github.com/smallbiznis/rebill/internal/subscription"
	"github.com/smallbiznis/rebill/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		clock.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		obsmetrics.Module,

		// Domain modules
		gateway.Module,
		plan.Module,
		paymentsource.Module,
		ledger.Module,
		subscription.Module,
		notification.Module,
		charge.Module,
		reconcile.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
