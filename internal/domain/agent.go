package domain

// AgentInfo — read-only метаданные агента для discovery-интерфейсов.
// Идентичность агента: роль уникальна, владеет ею только реестр оркестратора.
type AgentInfo struct {
	Role             string   `json:"role"`
	Name             string   `json:"name"`
	Responsibilities []string `json:"responsibilities"`
	DefaultModel     string   `json:"default_model"`
}

// AgentRequest — вход для исполнения агентом.
type AgentRequest struct {
	ConversationID string            `json:"conversation_id"`
	Prompt         string            `json:"prompt"`
	Type           RequestType       `json:"type"`
	Context        map[string]string `json:"context,omitempty"`
	Urgency        Level             `json:"urgency"`
}
