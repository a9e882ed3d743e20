package orchestrator

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"

	"github.com/webitel/broadcast-delivery-service/config"
)

var Module = fx.Module("orchestrator",
	fx.Provide(
		NewOrchestrator,
		NewConsumer,
		NewRouter,
	),
	fx.Invoke(func(lc fx.Lifecycle, router *message.Router, c *Consumer, cfg *config.Config, wmLogger watermill.LoggerAdapter, publisher message.Publisher) error {
		if err := c.RegisterHandlers(router, cfg, wmLogger, publisher); err != nil {
			return err
		}
		runCtx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					done <- router.Run(runCtx)
				}()
				select {
				case <-router.Running():
					return nil
				case err := <-done:
					return err
				case <-ctx.Done():
					return ctx.Err()
				}
			},
			OnStop: func(ctx context.Context) error {
				cancel()
				if err := router.Close(); err != nil {
					return err
				}
				select {
				case err := <-done:
					return err
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		})
		return nil
	}),
)
