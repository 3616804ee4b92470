package trace

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
	"go.uber.org/zap"
)

// Store — долговременный лог трейсов (внешний коллаборатор).
// Трекер только формирует записи на запись и восстанавливает Trace при промахе.
type Store interface {
	SaveTrace(ctx context.Context, t *domain.Trace) error
	GetTrace(ctx context.Context, conversationID string) (*domain.Trace, error)
}

type build struct {
	root *domain.Span
}

// Tracker строит иерархические трейсы исполнения по диалогам.
// Готовые трейсы держатся в ограниченной L1-таблице (вытеснение — старейший),
// при промахе чтение уходит в durable-лог.
type Tracker struct {
	mu        sync.Mutex
	active    map[string]*build        // диалоги с открытым корневым спаном
	retained  map[string]*domain.Trace // L1: conversationID -> финальный трейс
	order     []string                 // порядок финализации для FIFO-вытеснения
	retention int

	store  Store // nil — работаем без durable-лога
	logger *zap.Logger
}

func NewTracker(retention int, store Store, logger *zap.Logger) *Tracker {
	if retention <= 0 {
		retention = 256
	}
	return &Tracker{
		active:    make(map[string]*build),
		retained:  make(map[string]*domain.Trace),
		retention: retention,
		store:     store,
		logger:    logger.Named("trace-tracker"),
	}
}

// StartSpan открывает спан. parent nil — это корневой спан диалога;
// консультация суб-агента передает спан родителя и вкладывается строго
// по порядку вызова.
func (t *Tracker) StartSpan(conversationID, agentRole string, parent *domain.Span) *domain.Span {
	span := &domain.Span{
		ID:        uuid.New().String(),
		AgentRole: agentRole,
		StartedAt: time.Now(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if parent != nil {
		parent.Children = append(parent.Children, span)
		return span
	}

	if _, exists := t.active[conversationID]; exists {
		// Второй корень для того же диалога — ошибка вызывающего,
		// но трейс не ломаем: спан останется сиротой
		t.logger.Warn("duplicate root span", zap.String("conversation_id", conversationID))
		return span
	}
	t.active[conversationID] = &build{root: span}
	return span
}

// EndSpan закрывает спан. Первый EndSpan, закрывающий корень диалога,
// финализирует весь Trace.
func (t *Tracker) EndSpan(conversationID string, span *domain.Span, result string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	span.EndedAt = time.Now()
	span.Duration = span.EndedAt.Sub(span.StartedAt)
	span.Result = result

	b, ok := t.active[conversationID]
	if !ok || b.root != span {
		return
	}
	delete(t.active, conversationID)
	t.finalizeLocked(conversationID, b.root)
}

func (t *Tracker) finalizeLocked(conversationID string, root *domain.Span) {
	tr := &domain.Trace{
		ConversationID: conversationID,
		Root:           root,
		TotalDuration:  root.Duration,
		DecisionPath:   make([]string, 0, 4),
		Timestamp:      root.StartedAt,
	}

	// Bottleneck: максимум индивидуальной длительности по всему дереву,
	// при равенстве побеждает более ранний старт. DecisionPath — порядок
	// посещения ролей (pre-order), первым всегда идет корень.
	var bottleneck *domain.Span
	var walk func(s *domain.Span)
	walk = func(s *domain.Span) {
		tr.DecisionPath = append(tr.DecisionPath, s.AgentRole)
		if bottleneck == nil ||
			s.Duration > bottleneck.Duration ||
			(s.Duration == bottleneck.Duration && s.StartedAt.Before(bottleneck.StartedAt)) {
			bottleneck = s
		}
		for _, c := range s.Children {
			walk(c)
		}
	}
	walk(root)

	tr.BottleneckAgent = bottleneck.AgentRole
	tr.BottleneckDuration = bottleneck.Duration

	t.retained[conversationID] = tr
	t.order = append(t.order, conversationID)
	for len(t.order) > t.retention {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.retained, oldest)
	}

	if t.store != nil {
		// Асинхронный сброс в durable-лог: hot path диалога не ждет Postgres
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := t.store.SaveTrace(ctx, tr); err != nil {
				t.logger.Error("trace flush failed",
					zap.String("conversation_id", conversationID), zap.Error(err))
			}
		}()
	}
}

// GetTrace отдает трейс из L1, при промахе — восстанавливает из durable-лога.
func (t *Tracker) GetTrace(ctx context.Context, conversationID string) (*domain.Trace, error) {
	t.mu.Lock()
	tr, ok := t.retained[conversationID]
	t.mu.Unlock()
	if ok {
		return tr, nil
	}

	if t.store == nil {
		return nil, domain.ErrNotFound
	}
	return t.store.GetTrace(ctx, conversationID)
}
