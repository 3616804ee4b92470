package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
	"github.com/xela07ax/erpai-decision-prototype/internal/llm"
	"github.com/xela07ax/erpai-decision-prototype/internal/trace"
	"go.uber.org/zap"
)

// Consultation — плановое обращение к суб-агенту перед собственным решением.
type Consultation struct {
	Role   string
	Prompt string
}

// Plan — результат фазы планирования: что спросить у модели и кого
// проконсультировать до этого.
type Plan struct {
	System        string
	Prompt        string
	Consultations []Consultation
}

// Planner отображает запрос в план. Агенты конфигурируются планировщиком,
// а не наследованием.
type Planner func(req domain.AgentRequest) Plan

// QuotaGuard — контракт квотного предохранителя, нужный агенту.
type QuotaGuard interface {
	CheckAvailable() bool
	RecordExhaustion(reason string, statusCode int, retryAfter *time.Duration)
	Status() *domain.QuotaStatus
}

// Agent — ролевая reasoning-единица: запрос+контекст -> структурированное решение.
type Agent struct {
	role             string
	name             string
	responsibilities []string
	model            string
	planner          Planner

	backend  llm.Backend
	tracker  *trace.Tracker
	quota    QuotaGuard
	registry *Registry
	logger   *zap.Logger
}

// Config — конфигурация агента при регистрации. После регистрации агент иммутабелен.
type Config struct {
	Role             string
	Name             string
	Responsibilities []string
	Model            string
	Planner          Planner
}

func New(cfg Config, backend llm.Backend, tracker *trace.Tracker, quota QuotaGuard, registry *Registry, logger *zap.Logger) *Agent {
	return &Agent{
		role:             cfg.Role,
		name:             cfg.Name,
		responsibilities: cfg.Responsibilities,
		model:            cfg.Model,
		planner:          cfg.Planner,
		backend:          backend,
		tracker:          tracker,
		quota:            quota,
		registry:         registry,
		logger:           logger.Named("agent." + cfg.Role),
	}
}

// Info — read-only метаданные, без побочных эффектов.
func (a *Agent) Info() domain.AgentInfo {
	return domain.AgentInfo{
		Role:             a.role,
		Name:             a.name,
		Responsibilities: append([]string(nil), a.responsibilities...),
		DefaultModel:     a.model,
	}
}

// Role возвращает уникальный ключ агента в реестре.
func (a *Agent) Role() string { return a.role }

// Execute прогоняет запрос через пайплайн: спан -> консультации -> квота ->
// upstream -> разбор решения. parent nil означает корневой вызов диалога.
func (a *Agent) Execute(ctx context.Context, req domain.AgentRequest, parent *domain.Span) (*domain.Decision, error) {
	span := a.tracker.StartSpan(req.ConversationID, a.role, parent)

	plan := a.plan(req)

	// 1. Консультации: каждая — вложенный Execute со своим спаном,
	// решения складываются в контекст текущего агента
	reqCtx := cloneContext(req.Context)
	for _, c := range plan.Consultations {
		sub, ok := a.registry.Lookup(c.Role)
		if !ok {
			a.tracker.EndSpan(req.ConversationID, span, domain.SpanResultError)
			return nil, fmt.Errorf("%w: consultation target %q", domain.ErrUnknownAgent, c.Role)
		}

		subReq := domain.AgentRequest{
			ConversationID: req.ConversationID,
			Prompt:         c.Prompt,
			Type:           domain.RequestTypeQuery,
			Context:        cloneContext(req.Context),
			Urgency:        req.Urgency,
		}
		decision, err := sub.Execute(ctx, subReq, span)
		if err != nil {
			// Сбой консультации не глотаем: спан закрывается ошибкой и она уходит выше
			a.tracker.EndSpan(req.ConversationID, span, domain.SpanResultError)
			return nil, err
		}
		reqCtx["consult:"+c.Role] = decision.Summary + " | " + decision.RecommendedAction
	}

	// 2. Квота: fail fast без обращения к upstream
	if !a.quota.CheckAvailable() {
		a.tracker.EndSpan(req.ConversationID, span, domain.SpanResultQuotaShort)
		return nil, fmt.Errorf("%w: backend cooling down", domain.ErrQuotaExceeded)
	}

	// 3. Upstream вызов
	resp, err := a.backend.Complete(ctx, llm.CompletionRequest{
		Model:  a.model,
		System: plan.System,
		Prompt: renderPrompt(plan.Prompt, reqCtx),
	})
	if err != nil {
		var rlErr *llm.RateLimitError
		if errors.As(err, &rlErr) {
			// 429 всегда проходит через RecordExhaustion до того, как уйдет выше
			a.quota.RecordExhaustion("rate_limited", rlErr.StatusCode, rlErr.RetryAfter)
			a.tracker.EndSpan(req.ConversationID, span, domain.SpanResultQuotaShort)
			return nil, fmt.Errorf("%w: %v", domain.ErrQuotaExceeded, err)
		}
		a.tracker.EndSpan(req.ConversationID, span, domain.SpanResultError)
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamFailure, err)
	}

	decision := ParseDecision(resp.Content)
	a.tracker.EndSpan(req.ConversationID, span, domain.SpanResultSuccess)

	a.logger.Debug("decision produced",
		zap.String("conversation_id", req.ConversationID),
		zap.String("severity", string(decision.Severity)),
		zap.Int64("tokens_out", resp.OutputTokens))

	return decision, nil
}

func (a *Agent) plan(req domain.AgentRequest) Plan {
	p := Plan{Prompt: req.Prompt}
	if a.planner != nil {
		p = a.planner(req)
	}
	if p.System == "" {
		p.System = a.systemPrompt(req.Urgency)
	}
	return p
}

func (a *Agent) systemPrompt(urgency domain.Level) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s (%s) in a manufacturing ERP.\n", a.name, a.role)
	sb.WriteString("Responsibilities:\n")
	for _, r := range a.responsibilities {
		sb.WriteString("- " + r + "\n")
	}
	fmt.Fprintf(&sb, "Request urgency: %s.\n", urgency)
	sb.WriteString(decisionFormatHint)
	return sb.String()
}

const decisionFormatHint = `Reply with a single JSON object:
{"summary": "...", "recommended_action": "...", "severity": "low|medium|high|critical", "confidence": 0.0-1.0}`

// ParseDecision лояльно разбирает ответ модели: ищет JSON-объект в тексте,
// при неудаче деградирует до решения-заглушки со средней severity.
func ParseDecision(content string) *domain.Decision {
	d := &domain.Decision{
		Summary:    strings.TrimSpace(content),
		Severity:   domain.LevelMedium,
		Confidence: 0.5,
		RawOutput:  content,
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return d
	}

	var parsed struct {
		Summary           string  `json:"summary"`
		RecommendedAction string  `json:"recommended_action"`
		Severity          string  `json:"severity"`
		Confidence        float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err != nil {
		return d
	}

	if parsed.Summary != "" {
		d.Summary = parsed.Summary
	}
	d.RecommendedAction = parsed.RecommendedAction
	if sev := domain.Level(parsed.Severity); sev.Valid() {
		d.Severity = sev
	}
	if parsed.Confidence > 0 && parsed.Confidence <= 1 {
		d.Confidence = parsed.Confidence
	}
	return d
}

func cloneContext(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// renderPrompt дописывает контекст диалога (включая дайджесты консультаций)
// к основному промпту в стабильном порядке ключей.
func renderPrompt(prompt string, reqCtx map[string]string) string {
	if len(reqCtx) == 0 {
		return prompt
	}

	keys := make([]string, 0, len(reqCtx))
	for k := range reqCtx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(prompt)
	sb.WriteString("\n\nContext:\n")
	for _, k := range keys {
		fmt.Fprintf(&sb, "- %s: %s\n", k, reqCtx[k])
	}
	return sb.String()
}
