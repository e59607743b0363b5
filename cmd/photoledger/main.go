package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/photoledger/internal/authorization"
	"github.com/smallbiznis/photoledger/internal/clock"
	"github.com/smallbiznis/photoledger/internal/config"
	"github.com/smallbiznis/photoledger/internal/invite"
	"github.com/smallbiznis/photoledger/internal/ledger"
	"github.com/smallbiznis/photoledger/internal/migration"
	"github.com/smallbiznis/photoledger/internal/observability"
	"github.com/smallbiznis/photoledger/internal/order"
	"github.com/smallbiznis/photoledger/internal/payment"
	"github.com/smallbiznis/photoledger/internal/pricing"
	"github.com/smallbiznis/photoledger/internal/ratelimit"
	"github.com/smallbiznis/photoledger/internal/server"
	"github.com/smallbiznis/photoledger/internal/user"
	"github.com/smallbiznis/photoledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		ratelimit.Module,
		authorization.Module,

		// Ledger and payments
		user.Module,
		ledger.Module,
		pricing.Module,
		order.Module,
		payment.Module,
		invite.Module,

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
