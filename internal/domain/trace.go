package domain

import "time"

// Span — одна замеренная единица исполнения (вызов агента или суб-агента).
type Span struct {
	ID        string        `json:"id"`
	AgentRole string        `json:"agent_role"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration_ns"`
	Result    string        `json:"result"` // success / error / quota_short_circuit
	Children  []*Span       `json:"children,omitempty"`
}

// Trace — дерево спанов одного диалога плюс производные метрики.
// После завершения диалога объект иммутабелен.
type Trace struct {
	ConversationID     string        `json:"conversation_id"`
	Root               *Span         `json:"root"`
	TotalDuration      time.Duration `json:"total_duration_ns"`
	BottleneckAgent    string        `json:"bottleneck_agent"`
	BottleneckDuration time.Duration `json:"bottleneck_duration_ns"`
	DecisionPath       []string      `json:"decision_path"`
	Timestamp          time.Time     `json:"timestamp"`
}

// Результаты спанов.
const (
	SpanResultSuccess    = "success"
	SpanResultError      = "error"
	SpanResultQuotaShort = "quota_short_circuit"
)
