package service

import (
	"log/slog"

	"go.uber.org/fx"
)

var Module = fx.Module("service",
	fx.Provide(
		fx.Annotate(
			NewContentCache,
			fx.As(new(ContentProvider)),
		),
		fx.Annotate(
			NewLifecycleManager,
			fx.As(new(Lifecycler)),
		),
		fx.Annotate(
			NewTargetingEngine,
			fx.As(new(Targeter)),
		),
		fx.Annotate(
			NewDeliveryService,
			fx.As(new(Deliverer)),
		),
		fx.Annotate(
			NewConnectionRegistry,
			fx.As(new(Registrar)),
		),
		fx.Annotate(
			NewDltManager,
			fx.As(new(DltAdmin)),
		),
		fx.Annotate(
			NewQueryService,
			fx.As(new(Querier)),
		),
	),

	fx.Decorate(func(orig Lifecycler, logger *slog.Logger) Lifecycler {
		return &lifecycleMiddleware{
			next:   orig,
			logger: logger,
		}
	}),
)
