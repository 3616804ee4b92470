package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
)

type TraceService interface {
	GetTrace(ctx context.Context, conversationID string) (*domain.Trace, error)
	PerformanceStats() *domain.PerformanceStats
}

type TraceHandler struct {
	service TraceService
}

func NewTraceHandler(s TraceService) *TraceHandler {
	return &TraceHandler{service: s}
}

func (h *TraceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := h.service.GetTrace(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *TraceHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.PerformanceStats())
}
