package payment

import (
	"github.com/smallbiznis/photoledger/internal/payment/adapters"
	"github.com/smallbiznis/photoledger/internal/payment/adapters/wechatpay"
	"github.com/smallbiznis/photoledger/internal/payment/dedupe"
	"github.com/smallbiznis/photoledger/internal/payment/gateway"
	"github.com/smallbiznis/photoledger/internal/payment/repository"
	"github.com/smallbiznis/photoledger/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(wechatpay.NewFactory())
	}),
	fx.Provide(dedupe.NewMarker),
	fx.Provide(gateway.NewHTTPClient),
	fx.Provide(webhook.NewIngestor),
)
