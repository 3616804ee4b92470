package domain

import "time"

// RequestType — тип входящего запроса к агенту.
type RequestType string

const (
	RequestTypeRequest    RequestType = "request"
	RequestTypeQuery      RequestType = "query"
	RequestTypeAnalysis   RequestType = "analysis"
	RequestTypeValidation RequestType = "validation"
)

// Valid проверяет, что тип входит в известный набор.
func (t RequestType) Valid() bool {
	switch t {
	case RequestTypeRequest, RequestTypeQuery, RequestTypeAnalysis, RequestTypeValidation:
		return true
	}
	return false
}

// Level — единая шкала для urgency и severity.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Rank возвращает порядковый вес уровня для сравнения порогов.
func (l Level) Rank() int {
	switch l {
	case LevelLow:
		return 0
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelCritical:
		return 3
	default:
		return -1
	}
}

// Valid проверяет, что уровень входит в известный набор.
func (l Level) Valid() bool {
	return l.Rank() >= 0
}

// Статусы State Machine диалога
type ConversationStatus string

const (
	ConvPending    ConversationStatus = "pending"
	ConvInProgress ConversationStatus = "in_progress"
	ConvCompleted  ConversationStatus = "completed"
	ConvFailed     ConversationStatus = "failed"
	ConvEscalated  ConversationStatus = "escalated"
)

// Decision — структурированный результат работы агента.
type Decision struct {
	Summary           string  `json:"summary"`
	RecommendedAction string  `json:"recommended_action"`
	Severity          Level   `json:"severity"`
	Confidence        float64 `json:"confidence"`

	// RawOutput — сырой ответ модели, сохраняем для аудита и разбора инцидентов
	RawOutput string `json:"raw_output,omitempty"`

	// Resolution заполняется только при выходе из эскалации (approve/reject/expire)
	Resolution string `json:"resolution,omitempty"`
}

// Conversation — один прогон оркестрации: от запроса до терминального исхода.
type Conversation struct {
	ID         string             `json:"id"`
	Prompt     string             `json:"prompt"`
	Type       RequestType        `json:"type"`
	Context    map[string]string  `json:"context,omitempty"`
	Urgency    Level              `json:"urgency"`
	Severity   Level              `json:"severity"`
	Status     ConversationStatus `json:"status"`
	AgentRole  string             `json:"agent_role"`
	ApprovalID string             `json:"approval_id,omitempty"` // Ссылка на зависшую заявку HITL

	FinalDecision  *Decision `json:"final_decision,omitempty"`
	ProtocolResult string    `json:"protocol_result,omitempty"` // Сырой вывод агентского протокола
	Error          string    `json:"error,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// CanTransitionTo проверяет правила конечного автомата диалога.
// Разрешенные пути: pending -> in_progress -> {completed|failed|escalated},
// escalated -> {completed|failed}. Все остальное — нарушение.
func (c *Conversation) CanTransitionTo(next ConversationStatus) error {
	switch c.Status {
	case ConvPending:
		if next == ConvInProgress {
			return nil
		}
	case ConvInProgress:
		if next == ConvCompleted || next == ConvFailed || next == ConvEscalated {
			return nil
		}
	case ConvEscalated:
		// Выход из эскалации только через решение по Approval
		if next == ConvCompleted || next == ConvFailed {
			return nil
		}
	}
	return ErrInvalidTransition
}

// Terminal — достиг ли диалог финального состояния.
func (c *Conversation) Terminal() bool {
	return c.Status == ConvCompleted || c.Status == ConvFailed
}
