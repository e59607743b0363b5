package order

import (
	"github.com/smallbiznis/photoledger/internal/order/repository"
	"github.com/smallbiznis/photoledger/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
