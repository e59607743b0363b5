package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/photoledger/internal/authorization"
	"github.com/smallbiznis/photoledger/internal/clock"
	"github.com/smallbiznis/photoledger/internal/config"
	"github.com/smallbiznis/photoledger/internal/invite"
	invitedomain "github.com/smallbiznis/photoledger/internal/invite/domain"
	"github.com/smallbiznis/photoledger/internal/ledger"
	ledgerdomain "github.com/smallbiznis/photoledger/internal/ledger/domain"
	"github.com/smallbiznis/photoledger/internal/observability"
	"github.com/smallbiznis/photoledger/internal/order"
	orderdomain "github.com/smallbiznis/photoledger/internal/order/domain"
	"github.com/smallbiznis/photoledger/internal/pricing"
	"github.com/smallbiznis/photoledger/internal/user"
	"github.com/smallbiznis/photoledger/pkg/db"
	"go.uber.org/fx"
)

const appTimeout = 30 * time.Second

type deps struct {
	fx.In

	Authz   authorization.Service
	Ledger  ledgerdomain.Service
	Invites invitedomain.Service
	Orders  orderdomain.Service
}

// withDeps boots the domain modules without any HTTP surface, runs fn and
// shuts everything down again.
func withDeps(ctx context.Context, fn func(context.Context, deps) error) error {
	var d deps
	app := fx.New(
		fx.NopLogger,
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		authorization.Module,
		user.Module,
		ledger.Module,
		pricing.Module,
		order.Module,
		invite.Module,
		fx.Populate(&d),
	)
	return runApp(ctx, app, func(ctx context.Context) error { return fn(ctx, d) })
}

func runApp(ctx context.Context, app *fx.App, fn func(context.Context) error) error {
	startCtx, cancel := context.WithTimeout(ctx, appTimeout)
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), appTimeout)
		defer cancel()
		_ = app.Stop(stopCtx)
	}()
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

func registerSnowflake() *snowflake.Node {
	// Node 3 is reserved for operator tooling.
	node, err := snowflake.NewNode(3)
	if err != nil {
		panic(err)
	}
	return node
}
