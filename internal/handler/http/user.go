package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"

	"github.com/webitel/broadcast-delivery-service/config"
	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/event"
	"github.com/webitel/broadcast-delivery-service/internal/domain/registry"
	"github.com/webitel/broadcast-delivery-service/internal/service"
	"github.com/webitel/broadcast-delivery-service/internal/storage/grid"
	"github.com/webitel/broadcast-delivery-service/internal/worker"
)

type UserHandler struct {
	hub       registry.Hubber
	registrar service.Registrar
	delivery  service.Deliverer
	replayer  *worker.Worker
	grid      grid.Grid
	logger    *slog.Logger
	cfg       *config.Config
}

func NewUserHandler(hub registry.Hubber, registrar service.Registrar, delivery service.Deliverer, replayer *worker.Worker, g grid.Grid, logger *slog.Logger, cfg *config.Config) *UserHandler {
	return &UserHandler{
		hub:       hub,
		registrar: registrar,
		delivery:  delivery,
		replayer:  replayer,
		grid:      g,
		logger:    logger.With("component", "user_http"),
		cfg:       cfg,
	}
}

func (h *UserHandler) Routes(r chi.Router) {
	// Connects are rate limited per user, not per IP: fleets of clients
	// behind one NAT must not starve each other.
	connectLimit := httprate.Limit(h.cfg.HTTP.ConnectRatePerMin, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return r.URL.Query().Get("userId"), nil
		}))

	r.Route("/api/user", func(r chi.Router) {
		r.With(connectLimit).Get("/sse/connect", h.connect)
		r.Post("/sse/disconnect", h.disconnect)
		r.Post("/messages/read", h.markRead)
		r.Get("/sse/stats", h.stats)
		r.Get("/sse/connected/{userId}", h.connected)
	})
}

// connect opens the event stream. The frame order on a fresh stream is fixed:
// CONNECTED first, then replayed pending events, then live traffic
// interleaved with heartbeats.
func (h *UserHandler) connect(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUUID(w, r, h.logger, "userId")
	if !ok {
		return
	}
	connID := uuid.New()
	if raw := r.URL.Query().Get("connectionId"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, h.logger, apperr.Wrap(apperr.KindValidation, "invalid connectionId", err))
			return
		}
		connID = parsed
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, h.logger, apperr.New(apperr.KindFatal, "streaming unsupported"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Every frame write renews a deadline: a client that stops reading fails
	// the next write within the threshold instead of holding the stream until
	// the lifetime cap. Transports without deadline support just stream.
	ctrl := http.NewResponseController(w)
	send := func(ev event.Eventer) error {
		if h.cfg.SSE.ClientTimeoutThreshold > 0 {
			_ = ctrl.SetWriteDeadline(time.Now().Add(h.cfg.SSE.ClientTimeoutThreshold))
		}
		return writeFrame(w, flusher, ev)
	}

	if err := h.registrar.Register(r.Context(), userID, connID); err != nil {
		if errors.Is(err, service.ErrConnectionLimit) {
			// The cap is reported in-band so the client sees a proper
			// frame instead of a broken stream.
			w.WriteHeader(http.StatusOK)
			_ = send(event.NewFrame(userID, event.ConnectionLimitReached, event.PriorityHigh,
				&event.LimitPayload{MaxConnections: h.cfg.SSE.MaxConnectionsPerUser}))
			return
		}
		writeError(w, h.logger, err)
		return
	}

	conn := registry.NewConnector(r.Context(), userID, connID, h.cfg.SSE.MailboxSize)
	h.hub.Register(conn)
	defer func() {
		h.hub.Unregister(userID, connID)
		// The request context is gone by now; cleanup gets its own deadline.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.registrar.Unregister(ctx, userID, connID); err != nil {
			h.logger.Warn("deregistration failed", "user_id", userID, "conn_id", connID, "err", err)
		}
	}()

	w.WriteHeader(http.StatusOK)
	if err := send(event.NewFrame(userID, event.Connected, event.PriorityHigh,
		&event.ConnectedPayload{Ok: true, ConnectionID: connID.String()})); err != nil {
		return
	}

	if err := h.replayer.ReplayPending(r.Context(), userID); err != nil {
		h.logger.Error("pending replay failed", "user_id", userID, "err", err)
	}

	heartbeat := time.NewTicker(h.cfg.SSE.HeartbeatInterval)
	defer heartbeat.Stop()
	deadline := time.NewTimer(h.cfg.SSE.Timeout)
	defer deadline.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-deadline.C:
			// Stream lifetime cap; clients reconnect with the same id.
			return
		case <-heartbeat.C:
			if err := send(event.NewFrame(userID, event.Heartbeat, event.PriorityLow, nil)); err != nil {
				return
			}
			if err := h.registrar.Touch(r.Context(), userID, connID); err != nil {
				h.logger.Warn("heartbeat refresh failed", "conn_id", connID, "err", err)
			}
		case ev, ok := <-conn.Recv():
			if !ok {
				return
			}
			if err := send(ev); err != nil {
				return
			}
			if ev.GetKind() == event.ServerShutdown {
				return
			}
		}
	}
}

func (h *UserHandler) disconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUUID(w, r, h.logger, "userId")
	if !ok {
		return
	}
	connID, ok := queryUUID(w, r, h.logger, "connectionId")
	if !ok {
		return
	}
	h.hub.Unregister(userID, connID)
	if err := h.registrar.Unregister(r.Context(), userID, connID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) markRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := queryUUID(w, r, h.logger, "userId")
	if !ok {
		return
	}
	broadcastID, ok := queryUUID(w, r, h.logger, "broadcastId")
	if !ok {
		return
	}
	if err := h.delivery.MarkRead(r.Context(), broadcastID, userID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// stats reports both views: this pod's hub and the cluster-wide registry.
func (h *UserHandler) stats(w http.ResponseWriter, r *http.Request) {
	users, conns, err := h.grid.ConnectionCounts(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"local": h.hub.Stats(),
		"cluster": map[string]int{
			"totalUsers":       users,
			"totalConnections": conns,
		},
	})
}

func (h *UserHandler) connected(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userId"))
	if err != nil {
		writeError(w, h.logger, apperr.Wrap(apperr.KindValidation, "invalid userId", err))
		return
	}
	online, err := h.grid.IsOnline(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"connected": online})
}

func queryUUID(w http.ResponseWriter, r *http.Request, logger *slog.Logger, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.URL.Query().Get(name))
	if err != nil {
		writeError(w, logger, apperr.Wrap(apperr.KindValidation, "invalid "+name, err))
		return uuid.Nil, false
	}
	return id, true
}
