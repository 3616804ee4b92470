package domain

import "time"

// Статусы State Machine заявки HITL
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Terminal — все, кроме pending, финально.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalExpired
}

// Approval — запись Human-in-the-loop по решению с высокой severity.
// Ее резолюция — единственный способ разбудить эскалированный диалог.
type Approval struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"` // Ссылка на зависший диалог в оркестраторе
	AgentRole      string         `json:"agent_role"`
	Action         string         `json:"action"` // Что именно агент хотел сделать
	Severity       Level          `json:"severity"`
	Status         ApprovalStatus `json:"status"`
	RequestedBy    string         `json:"requested_by"`

	ApprovedBy      *string    `json:"approved_by,omitempty"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	RejectedBy      *string    `json:"rejected_by,omitempty"`
	RejectedAt      *time.Time `json:"rejected_at,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty"`

	ExpiryAt  time.Time `json:"expiry_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanTransitionTo проверяет правила конечного автомата.
func (a *Approval) CanTransitionTo(next ApprovalStatus) error {
	if a.Status != ApprovalPending {
		return ErrAlreadyResolved
	}
	if next == ApprovalPending {
		return ErrInvalidTransition
	}
	return nil
}

// Expired — просрочена ли заявка на момент now.
func (a *Approval) Expired(now time.Time) bool {
	return now.After(a.ExpiryAt)
}

// ApprovalDecision — решение оператора.
type ApprovalDecision string

const (
	DecisionApprove ApprovalDecision = "approve"
	DecisionReject  ApprovalDecision = "reject"
)

// Notification — запись для нотификации инициатора о терминальном переходе заявки.
type Notification struct {
	ID             string    `json:"id"`
	ApprovalID     string    `json:"approval_id"`
	ConversationID string    `json:"conversation_id"`
	Recipient      string    `json:"recipient"` // requested_by из заявки
	AgentRole      string    `json:"agent_role"`
	Action         string    `json:"action"`
	Outcome        string    `json:"outcome"` // approved/rejected/expired
	CreatedAt      time.Time `json:"created_at"`
}
