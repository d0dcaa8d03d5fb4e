package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ademajagon/dynamic-app/internal/app"
	"github.com/ademajagon/dynamic-app/internal/domain"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Timestamp string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return
	}
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, errorResponse{
		Error:     message,
		Code:      code,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// mapError translates service errors into HTTP responses. fallback is the
// status used for errors without a more specific mapping, 0 means 500.
func mapError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error, fallback int, fallbackCode string) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error(), "VALIDATION_ERROR")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, domain.ErrVersionConflict):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, "concurrent modification, please retry", "CONFLICT")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "INVALID_STATE_TRANSITION")
	case errors.Is(err, domain.ErrTooManyRequests):
		writeError(w, http.StatusTooManyRequests, err.Error(), "TOO_MANY_REQUESTS")
	case errors.Is(err, app.ErrQueueFull):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, err.Error(), "QUEUE_FULL")
	case fallback != 0:
		writeError(w, fallback, err.Error(), fallbackCode)
	default:
		log.ErrorContext(r.Context(), "unhandled error in HTTP handler",
			"err", err,
			"path", r.URL.Path,
			"method", r.Method,
		)
		writeError(w, http.StatusInternalServerError, "an unexpected error occurred", "INTERNAL_ERROR")
	}
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Invalid("body", "is not valid JSON")
	}
	return nil
}
