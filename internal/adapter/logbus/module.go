package logbus

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"go.uber.org/fx"
)

var Module = fx.Module("logbus",
	fx.Provide(
		NewLogger,
		NewKafkaPublisher,
	),
	fx.Invoke(func(lc fx.Lifecycle, pub message.Publisher) {
		lc.Append(fx.StopHook(pub.Close))
	}),
)
