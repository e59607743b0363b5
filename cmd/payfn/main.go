// Command payfn is the serverless payment webhook ingress. It verifies and
// applies gateway deliveries exactly like the backend does, then tells the
// backend about each accepted event.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/labstack/echo/v4"
	"github.com/smallbiznis/photoledger/internal/clock"
	"github.com/smallbiznis/photoledger/internal/config"
	"github.com/smallbiznis/photoledger/internal/ledger"
	"github.com/smallbiznis/photoledger/internal/notifier"
	"github.com/smallbiznis/photoledger/internal/observability"
	"github.com/smallbiznis/photoledger/internal/order"
	"github.com/smallbiznis/photoledger/internal/payment"
	"github.com/smallbiznis/photoledger/internal/payment/webhook"
	"github.com/smallbiznis/photoledger/internal/pricing"
	"github.com/smallbiznis/photoledger/internal/ratelimit"
	"github.com/smallbiznis/photoledger/internal/user"
	"github.com/smallbiznis/photoledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "payfn: parse config: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		fx.Supply(cfg.appConfig()),
		fx.Supply(webhook.IngressServerless),
		fx.Provide(config.NewLedgerConfigHolder),
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		ratelimit.Module,

		user.Module,
		ledger.Module,
		pricing.Module,
		order.Module,
		payment.Module,
		fx.Provide(fx.Annotate(notifier.New, fx.As(new(webhook.Notifier)))),

		fx.Provide(newEcho),
		fx.Invoke(run),
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	// Node 2 keeps function-issued ids apart from the backend's node 1.
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}

func run(lc fx.Lifecycle, cfg config.Config, e *echo.Echo, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
					log.Fatal("payfn server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return e.Shutdown(shutdownCtx)
		},
	})
}
