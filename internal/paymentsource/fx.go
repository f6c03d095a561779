package paymentsource

import (
	"github.com/smallbiznis/rebill/internal/paymentsource/repository"
	"github.com/smallbiznis/rebill/internal/paymentsource/service"
	"go.uber.org/fx"
)

var Module = fx.Module("paymentsource.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
