package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/fx"

	"github.com/webitel/broadcast-delivery-service/config"
	"github.com/webitel/broadcast-delivery-service/internal/domain/registry"
)

// Mountable lets each surface register its own routes on the shared mux.
type Mountable interface {
	Routes(r chi.Router)
}

func newMux(handlers []Mountable) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	for _, h := range handlers {
		h.Routes(r)
	}
	return r
}

func newServer(cfg *config.Config, mux *chi.Mux) *http.Server {
	return &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: mux,
		// No WriteTimeout: SSE streams outlive any sane value; the stream
		// lifetime cap is enforced per connection instead.
	}
}

type serverParams struct {
	fx.In

	Lc     fx.Lifecycle
	Srv    *http.Server
	Cfg    *config.Config
	Logger *slog.Logger
	// Only the user service runs a hub; the admin graph leaves this nil.
	Hub registry.Hubber `optional:"true"`
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// drainAndShutdown drains the hub before the listener stops accepting. Open
// SSE streams end themselves on the SERVER_SHUTDOWN frame, so srv.Shutdown
// has nothing left to wait on instead of burning the whole timeout.
func drainAndShutdown(ctx context.Context, hub registry.Hubber, srv shutdowner) error {
	if hub != nil {
		hub.Shutdown()
	}
	return srv.Shutdown(ctx)
}

func runServer(p serverParams) {
	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				p.Logger.Info("http server listening", "addr", p.Srv.Addr)
				if err := p.Srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					p.Logger.Error("http server failed", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, p.Cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return drainAndShutdown(shutdownCtx, p.Hub, p.Srv)
		},
	})
}

// AdminModule serves the management API.
var AdminModule = fx.Module("http-admin",
	fx.Provide(
		NewAdminHandler,
		fx.Annotate(newMux, fx.ParamTags(`group:"http_handlers"`)),
		newServer,
	),
	fx.Provide(
		fx.Annotate(func(h *AdminHandler) Mountable { return h },
			fx.ResultTags(`group:"http_handlers"`)),
	),
	fx.Invoke(runServer),
)

// UserModule serves the SSE surface.
var UserModule = fx.Module("http-user",
	fx.Provide(
		NewUserHandler,
		fx.Annotate(newMux, fx.ParamTags(`group:"http_handlers"`)),
		newServer,
	),
	fx.Provide(
		fx.Annotate(func(h *UserHandler) Mountable { return h },
			fx.ResultTags(`group:"http_handlers"`)),
	),
	fx.Invoke(runServer),
)
