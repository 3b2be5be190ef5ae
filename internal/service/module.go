package service

import (
	"context"

	"go.uber.org/fx"
)

// Module provides the undecorated Deliverer. Decorate at the root with
// NewDelivererMiddleware so every transport module sees the same instance.
var Module = fx.Module(
	"service",

	fx.Provide(
		// Domain services
		fx.Annotate(
			NewDeliveryService,
			fx.As(new(Deliverer)),
		),
		NewGarbageCollector,
	),

	fx.Invoke(func(lc fx.Lifecycle, gc *GarbageCollector) {
		lc.Append(fx.Hook{
			OnStart: gc.Start,
			OnStop: func(context.Context) error {
				gc.Stop()
				return nil
			},
		})
	}),
)
