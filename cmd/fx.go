package cmd

import (
	"log/slog"
	"os"

	"go.uber.org/fx"

	"github.com/webitel/broadcast-delivery-service/config"
	"github.com/webitel/broadcast-delivery-service/internal/adapter/logbus"
	"github.com/webitel/broadcast-delivery-service/internal/directory"
	"github.com/webitel/broadcast-delivery-service/internal/domain/registry"
	httphandler "github.com/webitel/broadcast-delivery-service/internal/handler/http"
	"github.com/webitel/broadcast-delivery-service/internal/orchestrator"
	"github.com/webitel/broadcast-delivery-service/internal/outbox"
	"github.com/webitel/broadcast-delivery-service/internal/scheduler"
	"github.com/webitel/broadcast-delivery-service/internal/service"
	"github.com/webitel/broadcast-delivery-service/internal/storage/grid"
	"github.com/webitel/broadcast-delivery-service/internal/storage/postgres"
	"github.com/webitel/broadcast-delivery-service/internal/worker"
)

// ProvideLogger builds the process-wide slog.Logger from config.
func ProvideLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With("service", ServiceName, "pod", cfg.Pod.ID)
	slog.SetDefault(logger)
	return logger
}

// adminOptions is the admin service graph: management HTTP API, outbox poller
// and the control-loop schedulers.
func adminOptions(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
		),
		postgres.Module,
		grid.Module,
		directory.Module,
		logbus.Module,
		outbox.Module,
		service.Module,
		scheduler.Module,
		httphandler.AdminModule,
	)
}

// userOptions is the user service graph: the SSE surface, the local hub, the
// orchestration consumer and the delivery worker.
func userOptions(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
		),
		postgres.Module,
		grid.Module,
		directory.Module,
		registry.Module,
		logbus.Module,
		outbox.PublisherModule,
		service.Module,
		orchestrator.Module,
		worker.Module,
		httphandler.UserModule,
	)
}

func NewAdminApp(cfg *config.Config) *fx.App {
	return fx.New(adminOptions(cfg))
}

func NewUserApp(cfg *config.Config) *fx.App {
	return fx.New(userOptions(cfg))
}
