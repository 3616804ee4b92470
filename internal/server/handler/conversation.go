package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
	"github.com/xela07ax/erpai-decision-prototype/internal/infra/auth"
	"github.com/xela07ax/erpai-decision-prototype/internal/orchestrator"
)

// ConversationService описывает, что хендлеру нужно от оркестратора
type ConversationService interface {
	StartConversation(ctx context.Context, role string, req orchestrator.Request) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
}

type ConversationHandler struct {
	service ConversationService
}

func NewConversationHandler(s ConversationService) *ConversationHandler {
	return &ConversationHandler{service: s}
}

type StartConversationRequest struct {
	ID        string             `json:"id,omitempty"`
	AgentRole string             `json:"agent_role"`
	Prompt    string             `json:"prompt"`
	Type      domain.RequestType `json:"type"`
	Context   map[string]string  `json:"context,omitempty"`
	Urgency   domain.Level       `json:"urgency"`
}

func (h *ConversationHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AgentRole == "" || req.Prompt == "" {
		http.Error(w, "agent_role and prompt are required", http.StatusBadRequest)
		return
	}

	conv, err := h.service.StartConversation(r.Context(), req.AgentRole, orchestrator.Request{
		ID:          req.ID,
		Prompt:      req.Prompt,
		Type:        req.Type,
		Context:     req.Context,
		Urgency:     req.Urgency,
		RequestedBy: auth.UserID(r.Context()),
	})
	if err != nil && conv == nil {
		writeError(w, err)
		return
	}

	// Диалог мог завершиться failed — исход все равно отдаем клиенту
	writeJSON(w, http.StatusCreated, conv)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	conv, err := h.service.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
