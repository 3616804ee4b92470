package audit

import "time"

// DecisionEvent — одна запись журнала решений: чем закончился диалог,
// кто решал и сколько это заняло.
type DecisionEvent struct {
	ID             string `json:"id"`              // UUID события
	ConversationID string `json:"conversation_id"` // Сквозной ID диалога
	AgentRole      string `json:"agent_role"`      // Кто решал
	RequestType    string `json:"request_type"`    // Что хотели
	Urgency        string `json:"urgency"`
	Severity       string `json:"severity"`

	// Исход
	Status            string `json:"status"`     // completed, failed, escalated
	Resolution        string `json:"resolution"` // approved / rejected / expired, если был HITL
	Summary           string `json:"summary"`
	RecommendedAction string `json:"recommended_action"`
	Error             string `json:"error,omitempty"`

	ApprovalID string    `json:"approval_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"` // Полное время диалога
}
