package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const maxDocumentBytes = 1 << 20

type dynamicService interface {
	Upsert(ctx context.Context, userID, key string, data []byte, updatedBy string) (bool, error)
	Get(ctx context.Context, userID, key string) (json.RawMessage, error)
}

type DynamicHandler struct {
	svc dynamicService
	log *slog.Logger
}

func NewDynamicHandler(svc dynamicService, log *slog.Logger) *DynamicHandler {
	return &DynamicHandler{svc: svc, log: log}
}

func (h *DynamicHandler) update(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "document too large", "PAYLOAD_TOO_LARGE")
		return
	}

	created, err := h.svc.Upsert(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "key"), data, Subject(r.Context()))
	if err != nil {
		mapError(w, r, h.log, err, 0, "")
		return
	}

	if created {
		writeText(w, http.StatusCreated, "created")
		return
	}
	writeText(w, http.StatusOK, "updated")
}

func (h *DynamicHandler) fetch(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.Get(r.Context(), chi.URLParam(r, "userId"), chi.URLParam(r, "key"))
	if err != nil {
		mapError(w, r, h.log, err, 0, "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// test is a connectivity probe for frontends.
func (h *DynamicHandler) test(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body) == 0 {
		writeText(w, http.StatusOK, "POST received with empty body")
		return
	}
	writeText(w, http.StatusOK, "POST received")
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
