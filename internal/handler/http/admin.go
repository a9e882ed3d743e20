package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/webitel/broadcast-delivery-service/config"
	"github.com/webitel/broadcast-delivery-service/internal/directory"
	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
	"github.com/webitel/broadcast-delivery-service/internal/domain/model"
	"github.com/webitel/broadcast-delivery-service/internal/service"
)

// createBroadcastRequest is the admin create body. Validation tags reject
// malformed requests before the lifecycle sees them.
type createBroadcastRequest struct {
	Sender        string     `json:"sender" validate:"required,max=255"`
	Content       string     `json:"content" validate:"required"`
	Priority      string     `json:"priority" validate:"omitempty,oneof=LOW NORMAL HIGH URGENT"`
	Category      string     `json:"category" validate:"max=255"`
	Target        targetSpec `json:"target" validate:"required"`
	ScheduledAt   *time.Time `json:"scheduledAt"`
	ExpiresAt     *time.Time `json:"expiresAt"`
	FireAndForget bool       `json:"fireAndForget"`
}

type targetSpec struct {
	Type    string      `json:"type" validate:"required,oneof=ALL ROLE PRODUCT SELECTED"`
	Role    string      `json:"role" validate:"required_if=Type ROLE"`
	Product string      `json:"product" validate:"required_if=Type PRODUCT"`
	UserIDs []uuid.UUID `json:"userIds" validate:"required_if=Type SELECTED"`
}

type AdminHandler struct {
	lifecycle service.Lifecycler
	query     service.Querier
	dlt       service.DltAdmin
	directory directory.Provider
	validate  *validator.Validate
	logger    *slog.Logger
	ratePerM  int
}

func NewAdminHandler(lifecycle service.Lifecycler, query service.Querier, dlt service.DltAdmin, dir directory.Provider, logger *slog.Logger, cfg *config.Config) *AdminHandler {
	return &AdminHandler{
		lifecycle: lifecycle,
		query:     query,
		dlt:       dlt,
		directory: dir,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger.With("component", "admin_http"),
		ratePerM:  cfg.HTTP.AdminRatePerMin,
	}
}

func (h *AdminHandler) Routes(r chi.Router) {
	r.Route("/api/admin", func(r chi.Router) {
		r.Route("/broadcasts", func(r chi.Router) {
			r.With(httprate.LimitByIP(h.ratePerM, time.Minute)).
				Post("/", h.createBroadcast)
			r.Get("/", h.listBroadcasts)
			r.Get("/users/all-ids", h.allUserIDs)
			r.Get("/{id}", h.getBroadcast)
			r.Delete("/{id}", h.cancelBroadcast)
			r.Get("/{id}/stats", h.getStatistics)
			r.Get("/{id}/deliveries", h.listDeliveries)
		})
		r.Route("/dlt", func(r chi.Router) {
			r.Get("/messages", h.listDlt)
			r.Get("/quarantine", h.listQuarantine)
			r.Post("/redrive/{id}", h.redriveDlt)
			r.Post("/redrive-all", h.redriveAllDlt)
			r.Delete("/purge/{id}", h.purgeDlt)
			r.Delete("/purge-all", h.purgeAllDlt)
		})
	})
}

func (h *AdminHandler) createBroadcast(w http.ResponseWriter, r *http.Request) {
	var req createBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, apperr.Wrap(apperr.KindValidation, "malformed body", err))
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeError(w, h.logger, apperr.Wrap(apperr.KindValidation, "invalid request", err))
		return
	}

	b, err := h.lifecycle.CreateBroadcast(r.Context(), &model.Broadcast{
		Sender:   req.Sender,
		Content:  req.Content,
		Priority: model.BroadcastPriority(req.Priority),
		Category: req.Category,
		Target: model.TargetSpec{
			Type:    model.TargetType(req.Target.Type),
			Role:    req.Target.Role,
			Product: req.Target.Product,
			UserIDs: req.Target.UserIDs,
		},
		ScheduledAt:   req.ScheduledAt,
		ExpiresAt:     req.ExpiresAt,
		FireAndForget: req.FireAndForget,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *AdminHandler) listBroadcasts(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("filter")
	switch filter {
	case "", "all", "active", "scheduled":
	default:
		writeError(w, h.logger, apperr.Newf(apperr.KindValidation, "unknown filter %q", filter))
		return
	}
	limit, offset := pageParams(r, 50)
	out, err := h.query.Broadcasts(r.Context(), filter, limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if out == nil {
		out = []*model.Broadcast{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) getBroadcast(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, h.logger, "id")
	if !ok {
		return
	}
	view, err := h.query.Broadcast(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *AdminHandler) cancelBroadcast(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, h.logger, "id")
	if !ok {
		return
	}
	if err := h.lifecycle.CancelBroadcast(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) getStatistics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, h.logger, "id")
	if !ok {
		return
	}
	stats, err := h.query.Statistics(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *AdminHandler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, h.logger, "id")
	if !ok {
		return
	}
	limit, offset := pageParams(r, 100)
	out, err := h.query.Deliveries(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if out == nil {
		out = []*model.UserBroadcast{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) allUserIDs(w http.ResponseWriter, r *http.Request) {
	ids, err := h.directory.AllUserIDs(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (h *AdminHandler) listDlt(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 100)
	out, err := h.dlt.ListRecords(r.Context(), limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if out == nil {
		out = []*model.DltRecord{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) listQuarantine(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 100)
	out, err := h.query.Quarantine(r.Context(), limit, offset)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if out == nil {
		out = []*model.QuarantinedEvent{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdminHandler) redriveDlt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, h.logger, "id")
	if !ok {
		return
	}
	if err := h.dlt.Redrive(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) redriveAllDlt(w http.ResponseWriter, r *http.Request) {
	n, err := h.dlt.RedriveAll(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"redriven": n})
}

func (h *AdminHandler) purgeDlt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathInt64(w, r, h.logger, "id")
	if !ok {
		return
	}
	if err := h.dlt.Purge(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) purgeAllDlt(w http.ResponseWriter, r *http.Request) {
	n, err := h.dlt.PurgeAll(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}

func pageParams(r *http.Request, defaultLimit int) (limit, offset int) {
	limit = defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}
	return limit, offset
}

func pathUUID(w http.ResponseWriter, r *http.Request, logger *slog.Logger, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, logger, apperr.Wrap(apperr.KindValidation, "invalid "+name, err))
		return uuid.Nil, false
	}
	return id, true
}

func pathInt64(w http.ResponseWriter, r *http.Request, logger *slog.Logger, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		writeError(w, logger, apperr.Wrap(apperr.KindValidation, "invalid "+name, err))
		return 0, false
	}
	return id, true
}
