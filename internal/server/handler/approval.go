package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
	"github.com/xela07ax/erpai-decision-prototype/internal/infra/auth"
)

// ApprovalService описываем, что нам нужно от оркестратора и гейта
type ApprovalService interface {
	ResolveApproval(ctx context.Context, id string, decision domain.ApprovalDecision, reviewer, reason string) (*domain.Conversation, error)
}

type ApprovalQueue interface {
	Get(ctx context.Context, id string) (*domain.Approval, error)
	List(ctx context.Context, status domain.ApprovalStatus, agentRole string, limit, offset int) ([]*domain.Approval, error)
}

type ApprovalHandler struct {
	service ApprovalService
	queue   ApprovalQueue
}

func NewApprovalHandler(s ApprovalService, q ApprovalQueue) *ApprovalHandler {
	return &ApprovalHandler{service: s, queue: q}
}

func (h *ApprovalHandler) GetDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := h.queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *ApprovalHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	status := domain.ApprovalStatus(q.Get("status"))
	if status == "" {
		status = domain.ApprovalPending // Дефолт для удобства очереди оператора
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	list, err := h.queue.List(r.Context(), status, q.Get("agent_role"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type DecideRequest struct {
	Decision domain.ApprovalDecision `json:"decision"` // approve | reject
	Reason   string                  `json:"reason"`
}

func (h *ApprovalHandler) Decide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req DecideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// ReviewerID — авторизованный оператор из токена
	reviewerID := auth.UserID(r.Context())
	if reviewerID == "" {
		http.Error(w, "reviewer identity is required", http.StatusUnauthorized)
		return
	}

	conv, err := h.service.ResolveApproval(r.Context(), id, req.Decision, reviewerID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
