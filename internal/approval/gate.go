package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
	"go.uber.org/zap"
)

// Store — хранилище заявок (Postgres в проде, фейк в тестах).
// Update обязан быть условным (только из pending), чтобы исключить Double Decision.
type Store interface {
	Create(ctx context.Context, a *domain.Approval) error
	Get(ctx context.Context, id string) (*domain.Approval, error)
	Update(ctx context.Context, a *domain.Approval) error
	List(ctx context.Context, status domain.ApprovalStatus, agentRole string, limit, offset int) ([]*domain.Approval, error)
	// ExpireOlderThan переводит просроченные pending-заявки в expired и возвращает их.
	ExpireOlderThan(ctx context.Context, now time.Time) ([]*domain.Approval, error)
}

// Notifier — граница нотификаций: одна запись на каждый терминальный переход.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

// Gate — долговечный конечный автомат заявок, требующих подписи человека.
// Единственный писатель состояния Approval; оркестратор только читает статус.
type Gate struct {
	store    Store
	notifier Notifier
	ttl      time.Duration
	logger   *zap.Logger
}

func NewGate(store Store, notifier Notifier, defaultTTL time.Duration, logger *zap.Logger) *Gate {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &Gate{
		store:    store,
		notifier: notifier,
		ttl:      defaultTTL,
		logger:   logger.Named("approval-gate"),
	}
}

// Create регистрирует pending-заявку. ttl <= 0 — берется дефолт из конфига.
func (g *Gate) Create(ctx context.Context, conversationID, agentRole, action string, severity domain.Level, requestedBy string, ttl time.Duration) (*domain.Approval, error) {
	if ttl < 0 {
		ttl = g.ttl
	}
	now := time.Now()
	a := &domain.Approval{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		AgentRole:      agentRole,
		Action:         action,
		Severity:       severity,
		Status:         domain.ApprovalPending,
		RequestedBy:    requestedBy,
		ExpiryAt:       now.Add(ttl),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := g.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("approval create failed: %w", err)
	}

	g.logger.Info("approval created",
		zap.String("id", a.ID),
		zap.String("conversation_id", conversationID),
		zap.String("agent_role", agentRole),
		zap.String("severity", string(severity)))
	return a, nil
}

// Resolve фиксирует решение оператора. Терминальная заявка — ErrAlreadyResolved.
// Уже просроченная pending-заявка уходит в expired независимо от намерения
// оператора, и это не ошибка: вызывающий видит фактический исход.
func (g *Gate) Resolve(ctx context.Context, id string, decision domain.ApprovalDecision, by, reason string) (*domain.Approval, error) {
	a, err := g.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if a.Status.Terminal() {
		return nil, domain.ErrAlreadyResolved
	}
	if a.Expired(now) {
		a.Status = domain.ApprovalExpired
		a.UpdatedAt = now
		if err := g.store.Update(ctx, a); err != nil {
			return nil, err
		}
		g.notifyTerminal(ctx, a)
		return a, nil
	}

	switch decision {
	case domain.DecisionApprove:
		a.Status = domain.ApprovalApproved
		a.ApprovedBy = &by
		a.ApprovedAt = &now
	case domain.DecisionReject:
		a.Status = domain.ApprovalRejected
		a.RejectedBy = &by
		a.RejectedAt = &now
		if reason != "" {
			a.RejectionReason = &reason
		}
	default:
		return nil, fmt.Errorf("%w: decision %q", domain.ErrInvalidTransition, decision)
	}
	a.UpdatedAt = now

	// Условный апдейт: если параллельный оператор успел раньше, уедет ErrAlreadyResolved
	if err := g.store.Update(ctx, a); err != nil {
		return nil, err
	}

	g.logger.Info("approval resolved",
		zap.String("id", a.ID),
		zap.String("outcome", string(a.Status)),
		zap.String("reviewer", by))
	g.notifyTerminal(ctx, a)
	return a, nil
}

// SweepExpired лениво переводит залежавшиеся pending-заявки в expired.
// Идемпотентна; фоновых таймеров в ядре нет — вызывается перед чтением списков.
func (g *Gate) SweepExpired(ctx context.Context) (int, error) {
	expired, err := g.store.ExpireOlderThan(ctx, time.Now())
	if err != nil {
		return 0, err
	}
	for _, a := range expired {
		g.notifyTerminal(ctx, a)
	}
	if len(expired) > 0 {
		g.logger.Info("expired approvals swept", zap.Int("count", len(expired)))
	}
	return len(expired), nil
}

// Get возвращает заявку по id.
func (g *Gate) Get(ctx context.Context, id string) (*domain.Approval, error) {
	return g.store.Get(ctx, id)
}

// List отдает очередь заявок с фильтрами и пагинацией, предварительно
// выметая просроченные.
func (g *Gate) List(ctx context.Context, status domain.ApprovalStatus, agentRole string, limit, offset int) ([]*domain.Approval, error) {
	if _, err := g.SweepExpired(ctx); err != nil {
		g.logger.Warn("expiry sweep failed before listing", zap.Error(err))
	}
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return g.store.List(ctx, status, agentRole, limit, offset)
}

func (g *Gate) notifyTerminal(ctx context.Context, a *domain.Approval) {
	if g.notifier == nil {
		return
	}
	g.notifier.Notify(ctx, domain.Notification{
		ID:             uuid.New().String(),
		ApprovalID:     a.ID,
		ConversationID: a.ConversationID,
		Recipient:      a.RequestedBy,
		AgentRole:      a.AgentRole,
		Action:         a.Action,
		Outcome:        string(a.Status),
		CreatedAt:      time.Now(),
	})
}
