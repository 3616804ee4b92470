package handler

import (
	"net/http"

	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
)

type AgentDirectory interface {
	AllAgents() []domain.AgentInfo
}

type AgentHandler struct {
	directory AgentDirectory
}

func NewAgentHandler(d AgentDirectory) *AgentHandler {
	return &AgentHandler{directory: d}
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.directory.AllAgents())
}
