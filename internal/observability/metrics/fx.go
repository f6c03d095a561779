package metrics

import (
	"github.com/smallbiznis/rebill/internal/config"
	"go.uber.org/fx"
)

func NewConfig(cfg config.Config) Config {
	return Config{
		Enabled:          cfg.Metrics.Enabled,
		ExporterEndpoint: cfg.Metrics.Endpoint,
		ExporterProtocol: cfg.Metrics.Exporter,
		ServiceName:      cfg.AppName,
		Environment:      cfg.Environment,
	}
}

var Module = fx.Module("observability.metrics",
	fx.Provide(NewConfig),
	fx.Provide(NewProvider),
	fx.Provide(New),
)
