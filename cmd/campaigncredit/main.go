package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/campaigncredit/internal/apikey"
	"github.com/smallbiznis/campaigncredit/internal/audit"
	"github.com/smallbiznis/campaigncredit/internal/authorization"
	"github.com/smallbiznis/campaigncredit/internal/clock"
	"github.com/smallbiznis/campaigncredit/internal/config"
	"github.com/smallbiznis/campaigncredit/internal/ledger"
	"github.com/smallbiznis/campaigncredit/internal/messaging"
	"github.com/smallbiznis/campaigncredit/internal/migration"
	"github.com/smallbiznis/campaigncredit/internal/observability"
	"github.com/smallbiznis/campaigncredit/internal/order"
	"github.com/smallbiznis/campaigncredit/internal/payment"
	"github.com/smallbiznis/campaigncredit/internal/pricing"
	"github.com/smallbiznis/campaigncredit/internal/providers"
	"github.com/smallbiznis/campaigncredit/internal/ratelimit"
	"github.com/smallbiznis/campaigncredit/internal/reconciliation"
	"github.com/smallbiznis/campaigncredit/internal/scheduler"
	"github.com/smallbiznis/campaigncredit/internal/server"
	"github.com/smallbiznis/campaigncredit/internal/transaction"
	"github.com/smallbiznis/campaigncredit/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Credits and payments
		pricing.Module,
		ledger.Module,
		transaction.Module,
		payment.Module,
		order.Module,
		reconciliation.Module,

		// Delivery
		providers.Module,
		messaging.Module,

		// Access
		ratelimit.Module,
		authorization.Module,
		apikey.Module,
		audit.Module,

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
