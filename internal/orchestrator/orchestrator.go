package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/erpai-decision-prototype/internal/agent"
	"github.com/xela07ax/erpai-decision-prototype/internal/approval"
	"github.com/xela07ax/erpai-decision-prototype/internal/audit"
	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
	"github.com/xela07ax/erpai-decision-prototype/internal/metrics"
	"github.com/xela07ax/erpai-decision-prototype/internal/policy"
	"go.uber.org/zap"
)

// Request — входной запрос на оркестрацию решения.
// ID опционален: пустой — оркестратор сгенерирует сам.
type Request struct {
	ID          string             `json:"id,omitempty"`
	Prompt      string             `json:"prompt"`
	Type        domain.RequestType `json:"type"`
	Context     map[string]string  `json:"context,omitempty"`
	Urgency     domain.Level       `json:"urgency"`
	RequestedBy string             `json:"requested_by"`
}

// Orchestrator — ядро сервиса: ведет диалог от запроса до терминального
// исхода. Владеет реестром агентов (read-only после сборки) и индексом
// активных диалогов. Собирается один раз в main, зависимости инжектируются.
type Orchestrator struct {
	registry *agent.Registry
	gate     *approval.Gate
	policy   *policy.EscalationPolicy
	journal  audit.Recorder
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu sync.RWMutex
	// Индекс диалогов: и in-flight, и завершенные (для чтения по API)
	conversations map[string]*domain.Conversation
}

func New(registry *agent.Registry, gate *approval.Gate, esc *policy.EscalationPolicy, journal audit.Recorder, m *metrics.Metrics, logger *zap.Logger) *Orchestrator {
	if m == nil {
		m = metrics.NewMetrics(nil)
	}
	return &Orchestrator{
		registry:      registry,
		gate:          gate,
		policy:        esc,
		journal:       journal,
		metrics:       m,
		logger:        logger.Named("orchestrator"),
		conversations: make(map[string]*domain.Conversation),
	}
}

// StartConversation прогоняет запрос через агента и доводит диалог до
// completed, failed или escalated. Неизвестная роль — ErrUnknownAgent до
// любых побочных эффектов. Сбой агента — терминальный failed без ретраев.
func (o *Orchestrator) StartConversation(ctx context.Context, role string, req Request) (*domain.Conversation, error) {
	ag, ok := o.registry.Lookup(role)
	if !ok {
		o.metrics.ErrorTotal.WithLabelValues("unknown_agent").Inc()
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownAgent, role)
	}
	if !req.Urgency.Valid() {
		req.Urgency = domain.LevelMedium
	}
	if !req.Type.Valid() {
		req.Type = domain.RequestTypeRequest
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	conv := &domain.Conversation{
		ID:        req.ID,
		Prompt:    req.Prompt,
		Type:      req.Type,
		Context:   req.Context,
		Urgency:   req.Urgency,
		Status:    domain.ConvPending,
		AgentRole: role,
		StartedAt: time.Now(),
	}
	o.put(conv)
	o.metrics.ConversationsTotal.WithLabelValues(role, string(req.Type)).Inc()

	o.transition(conv, domain.ConvInProgress)

	decision, err := ag.Execute(ctx, domain.AgentRequest{
		ConversationID: conv.ID,
		Prompt:         req.Prompt,
		Type:           req.Type,
		Context:        req.Context,
		Urgency:        req.Urgency,
	}, nil)
	if err != nil {
		o.fail(conv, err)
		return o.snapshot(conv), err
	}

	o.mu.Lock()
	conv.FinalDecision = decision
	conv.Severity = decision.Severity
	conv.ProtocolResult = decision.RawOutput
	o.mu.Unlock()

	// Порог эскалации — данные из policy, не код
	if o.policy.RequiresApproval(req.Urgency, decision.Severity) {
		a, aerr := o.gate.Create(ctx, conv.ID, role, decision.RecommendedAction, decision.Severity, req.RequestedBy, -1)
		if aerr != nil {
			o.fail(conv, aerr)
			return o.snapshot(conv), aerr
		}
		o.mu.Lock()
		conv.ApprovalID = a.ID
		o.transitionLocked(conv, domain.ConvEscalated)
		o.mu.Unlock()
		o.metrics.EscalationsTotal.WithLabelValues("pending").Inc()

		o.logger.Info("conversation escalated",
			zap.String("conversation_id", conv.ID),
			zap.String("approval_id", a.ID),
			zap.String("severity", string(decision.Severity)),
			zap.String("urgency", string(req.Urgency)))
		return o.snapshot(conv), nil
	}

	o.complete(conv)
	return o.snapshot(conv), nil
}

// ResolveApproval — единственный путь возобновления эскалированного диалога.
// approve -> completed; reject/expire -> failed. Причина резолюции уезжает
// в финальное решение.
func (o *Orchestrator) ResolveApproval(ctx context.Context, approvalID string, decision domain.ApprovalDecision, reviewer, reason string) (*domain.Conversation, error) {
	a, err := o.gate.Resolve(ctx, approvalID, decision, reviewer, reason)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyResolved) {
			o.metrics.ErrorTotal.WithLabelValues("transition").Inc()
			// Заявку мог закрыть ленивый свип: исход expired все равно
			// должен дойти до диалога, иначе он навсегда зависнет в escalated
			if swept, gerr := o.gate.Get(ctx, approvalID); gerr == nil && swept.Status == domain.ApprovalExpired {
				if conv, ok := o.get(swept.ConversationID); ok {
					o.finalizeExpired(conv)
				}
			}
			return nil, err
		}
		if errors.Is(err, domain.ErrNotFound) {
			o.metrics.ErrorTotal.WithLabelValues("transition").Inc()
		}
		return nil, err
	}

	conv, ok := o.get(a.ConversationID)
	if !ok {
		// Заявка пережила рестарт, а диалог жил только в памяти
		return nil, fmt.Errorf("%w: conversation %q", domain.ErrNotFound, a.ConversationID)
	}

	switch a.Status {
	case domain.ApprovalApproved:
		o.metrics.EscalationsTotal.WithLabelValues("approved").Inc()
		o.setResolution(conv, "approved by "+reviewer)
		o.complete(conv)
	case domain.ApprovalRejected:
		o.metrics.EscalationsTotal.WithLabelValues("rejected").Inc()
		res := "rejected by " + reviewer
		if reason != "" {
			res += ": " + reason
		}
		o.setResolution(conv, res)
		o.fail(conv, fmt.Errorf("approval rejected: %s", reason))
	case domain.ApprovalExpired:
		o.finalizeExpired(conv)
	}

	return o.snapshot(conv), nil
}

// GetConversation возвращает снапшот диалога по id. Эскалированный диалог
// сверяется с заявкой: если ее закрыл свип, диалог добивается до failed здесь.
func (o *Orchestrator) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	conv, ok := o.get(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	o.reconcileEscalated(ctx, conv)
	return o.snapshot(conv), nil
}

// reconcileEscalated подтягивает исход заявки, закрытой свипом в обход
// оркестратора. Фоновых таймеров нет, сверка выполняется на чтении.
func (o *Orchestrator) reconcileEscalated(ctx context.Context, conv *domain.Conversation) {
	o.mu.RLock()
	escalated := conv.Status == domain.ConvEscalated
	approvalID := conv.ApprovalID
	o.mu.RUnlock()
	if !escalated || approvalID == "" {
		return
	}

	a, err := o.gate.Get(ctx, approvalID)
	if err != nil || a.Status != domain.ApprovalExpired {
		return
	}
	o.finalizeExpired(conv)
}

// finalizeExpired переводит эскалированный диалог в failed по просроченной
// заявке. Идемпотентна: повторный вызов по уже терминальному диалогу — no-op.
func (o *Orchestrator) finalizeExpired(conv *domain.Conversation) {
	now := time.Now()

	o.mu.Lock()
	if conv.Status != domain.ConvEscalated {
		o.mu.Unlock()
		return
	}
	if conv.FinalDecision != nil {
		conv.FinalDecision.Resolution = "expired"
	}
	o.transitionLocked(conv, domain.ConvFailed)
	conv.CompletedAt = &now
	conv.Error = "approval expired before review"
	o.mu.Unlock()

	o.metrics.EscalationsTotal.WithLabelValues("expired").Inc()
	o.observe(conv)
	o.record(conv)

	o.logger.Warn("conversation failed on approval expiry",
		zap.String("conversation_id", conv.ID),
		zap.String("approval_id", conv.ApprovalID))
}

// AllAgents — метаданные зарегистрированных ролей в порядке регистрации.
func (o *Orchestrator) AllAgents() []domain.AgentInfo {
	return o.registry.All()
}

func (o *Orchestrator) put(conv *domain.Conversation) {
	o.mu.Lock()
	o.conversations[conv.ID] = conv
	o.mu.Unlock()
}

func (o *Orchestrator) get(id string) (*domain.Conversation, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	conv, ok := o.conversations[id]
	return conv, ok
}

func (o *Orchestrator) setResolution(conv *domain.Conversation, res string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if conv.FinalDecision != nil {
		conv.FinalDecision.Resolution = res
	}
}

// snapshot — копия под RLock, чтобы читатели API не гонялись с переходами.
func (o *Orchestrator) snapshot(conv *domain.Conversation) *domain.Conversation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	cp := *conv
	if conv.FinalDecision != nil {
		d := *conv.FinalDecision
		cp.FinalDecision = &d
	}
	return &cp
}

func (o *Orchestrator) transition(conv *domain.Conversation, next domain.ConversationStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitionLocked(conv, next)
}

func (o *Orchestrator) transitionLocked(conv *domain.Conversation, next domain.ConversationStatus) {
	if err := conv.CanTransitionTo(next); err != nil {
		// Нарушение конечного автомата — баг оркестратора, не пользователя
		o.logger.Error("illegal conversation transition",
			zap.String("conversation_id", conv.ID),
			zap.String("from", string(conv.Status)),
			zap.String("to", string(next)))
		o.metrics.ErrorTotal.WithLabelValues("transition").Inc()
		return
	}
	conv.Status = next
}

func (o *Orchestrator) complete(conv *domain.Conversation) {
	now := time.Now()
	o.mu.Lock()
	o.transitionLocked(conv, domain.ConvCompleted)
	conv.CompletedAt = &now
	o.mu.Unlock()
	o.observe(conv)
	o.record(conv)
}

func (o *Orchestrator) fail(conv *domain.Conversation, err error) {
	now := time.Now()
	o.mu.Lock()
	o.transitionLocked(conv, domain.ConvFailed)
	conv.CompletedAt = &now
	conv.Error = err.Error()
	o.mu.Unlock()
	o.classifyError(err)
	o.observe(conv)
	o.record(conv)

	o.logger.Warn("conversation failed",
		zap.String("conversation_id", conv.ID),
		zap.String("agent_role", conv.AgentRole),
		zap.Error(err))
}

func (o *Orchestrator) classifyError(err error) {
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		o.metrics.ErrorTotal.WithLabelValues("quota").Inc()
	case errors.Is(err, domain.ErrUpstreamFailure):
		o.metrics.ErrorTotal.WithLabelValues("upstream").Inc()
	default:
		o.metrics.ErrorTotal.WithLabelValues("internal").Inc()
	}
}

func (o *Orchestrator) observe(conv *domain.Conversation) {
	if conv.CompletedAt == nil {
		return
	}
	o.metrics.ConversationDuration.
		WithLabelValues(conv.AgentRole, string(conv.Status)).
		Observe(conv.CompletedAt.Sub(conv.StartedAt).Seconds())
}

// record отправляет терминальный исход в журнал решений.
func (o *Orchestrator) record(conv *domain.Conversation) {
	if o.journal == nil {
		return
	}
	ev := audit.DecisionEvent{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		AgentRole:      conv.AgentRole,
		RequestType:    string(conv.Type),
		Urgency:        string(conv.Urgency),
		Severity:       string(conv.Severity),
		Status:         string(conv.Status),
		Error:          conv.Error,
		ApprovalID:     conv.ApprovalID,
		Timestamp:      time.Now(),
	}
	if conv.FinalDecision != nil {
		ev.Summary = conv.FinalDecision.Summary
		ev.RecommendedAction = conv.FinalDecision.RecommendedAction
		ev.Resolution = conv.FinalDecision.Resolution
	}
	if conv.CompletedAt != nil {
		ev.DurationMs = conv.CompletedAt.Sub(conv.StartedAt).Milliseconds()
	}
	o.journal.Record(ev)
}
