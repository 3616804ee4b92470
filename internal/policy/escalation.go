package policy

import (
	"sync"

	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
	"github.com/xela07ax/erpai-decision-prototype/internal/infra"
	"go.uber.org/zap"
)

// EscalationPolicy решает, требует ли решение агента подписи человека.
// Порог — данные, не код: urgency -> минимальная severity для эскалации.
// В рантайме оркестратор обращается только к памяти, это Hot Path.
type EscalationPolicy struct {
	mu sync.RWMutex
	// Матрица: urgency -> минимальная severity, начиная с которой нужен апрув
	thresholds map[domain.Level]domain.Level

	logger *zap.Logger
}

// defaultThresholds применяется для urgency, не покрытых конфигом.
// Чем срочнее запрос, тем ниже порог ручной подписи.
var defaultThresholds = map[domain.Level]domain.Level{
	domain.LevelLow:      domain.LevelHigh,
	domain.LevelMedium:   domain.LevelHigh,
	domain.LevelHigh:     domain.LevelMedium,
	domain.LevelCritical: domain.LevelMedium,
}

func NewEscalationPolicy(cfg infra.EscalationConfig, logger *zap.Logger) *EscalationPolicy {
	p := &EscalationPolicy{
		thresholds: make(map[domain.Level]domain.Level),
		logger:     logger.Named("escalation"),
	}
	p.Refresh(cfg)
	return p
}

// RequiresApproval — нужен ли человек для данной пары urgency/severity.
// Неизвестные уровни трактуем консервативно: эскалируем.
func (p *EscalationPolicy) RequiresApproval(urgency, severity domain.Level) bool {
	if !severity.Valid() {
		return true
	}

	p.mu.RLock()
	threshold, ok := p.thresholds[urgency]
	p.mu.RUnlock()

	if !ok {
		threshold, ok = defaultThresholds[urgency]
		if !ok {
			// Неизвестная срочность — Default Escalate
			return true
		}
	}
	return severity.Rank() >= threshold.Rank()
}

// Threshold возвращает действующий порог для диагностики и control surface.
func (p *EscalationPolicy) Threshold(urgency domain.Level) (domain.Level, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.thresholds[urgency]
	return t, ok
}

// Refresh перезагружает матрицу из конфига. Кривые записи пропускаются
// с warn, валидные дефолты остаются запасным слоем.
func (p *EscalationPolicy) Refresh(cfg infra.EscalationConfig) {
	next := make(map[domain.Level]domain.Level, len(defaultThresholds))
	for u, t := range defaultThresholds {
		next[u] = t
	}

	for rawU, rawT := range cfg.Rules {
		u, t := domain.Level(rawU), domain.Level(rawT)
		if !u.Valid() || !t.Valid() {
			p.logger.Warn("skipping malformed escalation rule",
				zap.String("urgency", rawU),
				zap.String("min_severity", rawT))
			continue
		}
		next[u] = t
	}

	p.mu.Lock()
	p.thresholds = next
	p.mu.Unlock()

	p.logger.Info("escalation matrix loaded", zap.Int("rules", len(next)))
}
