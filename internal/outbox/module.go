package outbox

import (
	"context"

	"go.uber.org/fx"
)

// PublisherModule provides only the tx-bound Publisher. The user service pulls
// this in for services that emit events without running a poller of its own.
var PublisherModule = fx.Module("outbox-publisher",
	fx.Provide(NewPublisher),
)

// Module is the full outbox: publisher plus the lease-gated poller loop.
var Module = fx.Module("outbox",
	PublisherModule,
	fx.Provide(NewPoller),
	fx.Invoke(func(lc fx.Lifecycle, p *Poller) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go func() {
					defer close(done)
					p.Run(ctx)
				}()
				return nil
			},
			OnStop: func(context.Context) error {
				cancel()
				<-done
				return nil
			},
		})
	}),
)
