// Package http exposes the two HTTP surfaces: the admin API managing
// broadcasts and the dead-letter archive, and the user API serving SSE
// streams plus read acknowledgments.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/webitel/broadcast-delivery-service/internal/domain/apperr"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps the error taxonomy onto HTTP statuses. Unknown errors are
// logged and masked as 500 to keep internals off the wire.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindRateLimited:
		status = http.StatusTooManyRequests
	case apperr.KindConflictCAS:
		status = http.StatusConflict
	case apperr.KindSerializationPoison:
		status = http.StatusUnprocessableEntity
	case apperr.KindDurableStoreUnavailable, apperr.KindLogUnavailable, apperr.KindGridUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		logger.Error("request failed", "err", err)
		writeJSON(w, status, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
