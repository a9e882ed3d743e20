package worker

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("worker",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, w *Worker) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					done <- w.Run(ctx)
				}()
				return nil
			},
			OnStop: func(stopCtx context.Context) error {
				cancel()
				select {
				case err := <-done:
					return err
				case <-stopCtx.Done():
					return stopCtx.Err()
				}
			},
		})
	}),
)
