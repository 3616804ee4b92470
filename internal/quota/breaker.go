package quota

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/erpai-decision-prototype/internal/domain"
	"github.com/xela07ax/erpai-decision-prototype/internal/infra"
	"go.uber.org/zap"
)

// Breaker — общий предохранитель квоты reasoning-бэкенда.
// Читается каждым in-flight исполнением агента, поэтому чтение дешевое и
// безлоковое: вся запись хранится одним указателем и обновляется целиком.
// Гонка check-then-act допустима (пара лишних вызовов проскочит сразу после
// исчерпания), но записи не теряются и не рвутся.
type Breaker struct {
	state          atomic.Pointer[domain.QuotaStatus]
	defaultBackoff time.Duration

	// rdb опционален: если задан, запись/сброс транслируются другим инстансам
	rdb    *redis.Client
	logger *zap.Logger
}

func NewBreaker(defaultBackoff time.Duration, rdb *redis.Client, logger *zap.Logger) *Breaker {
	if defaultBackoff <= 0 {
		defaultBackoff = time.Hour
	}
	return &Breaker{
		defaultBackoff: defaultBackoff,
		rdb:            rdb,
		logger:         logger.Named("quota-breaker"),
	}
}

// CheckAvailable возвращает false только пока действует непросроченная запись
// об исчерпании. Просроченная запись снимается по ходу проверки.
func (b *Breaker) CheckAvailable() bool {
	st := b.state.Load()
	if st == nil || !st.IsQuotaExceeded {
		return true
	}
	if st.Expired(time.Now()) {
		// Снимаем именно ту запись, что видели: если параллельно прилетела
		// свежая, CAS не пройдет и она останется действовать
		b.state.CompareAndSwap(st, nil)
		return true
	}
	return false
}

// RecordExhaustion фиксирует исчерпание квоты. Последняя запись побеждает.
// retryAfter nil — берем дефолтное окно из конфига.
func (b *Breaker) RecordExhaustion(reason string, statusCode int, retryAfter *time.Duration) {
	now := time.Now()
	backoff := b.defaultBackoff
	if retryAfter != nil && *retryAfter > 0 {
		backoff = *retryAfter
	}
	expiry := now.Add(backoff)

	rec := &domain.QuotaStatus{
		IsQuotaExceeded: true,
		LastCheck:       now,
		ExpiryTime:      &expiry,
		Reason:          reason,
		StatusCode:      statusCode,
	}
	b.state.Store(rec)

	b.logger.Warn("llm quota exhausted",
		zap.String("reason", reason),
		zap.Int("status_code", statusCode),
		zap.Time("expiry", expiry))

	b.broadcast(rec)
}

// Reset безусловно снимает запись. Ручное вмешательство оператора.
func (b *Breaker) Reset() {
	b.state.Store(nil)
	b.logger.Info("quota record cleared by operator")
	b.broadcast(nil)
}

// Status возвращает копию текущей записи или nil.
func (b *Breaker) Status() *domain.QuotaStatus {
	st := b.state.Load()
	if st == nil {
		return nil
	}
	cp := *st
	return &cp
}

// applyRemote ставит запись, полученную от другого инстанса, без ре-трансляции.
func (b *Breaker) applyRemote(rec *domain.QuotaStatus) {
	b.state.Store(rec)
}

const resetPayload = "reset"

func (b *Breaker) broadcast(rec *domain.QuotaStatus) {
	if b.rdb == nil {
		return
	}

	payload := resetPayload
	if rec != nil {
		data, err := json.Marshal(rec)
		if err != nil {
			b.logger.Error("failed to marshal quota record", zap.Error(err))
			return
		}
		payload = string(data)
	}

	// Сигнал best-effort: локальная запись уже применена, потеря сигнала
	// приведет лишь к паре лишних 429 на соседнем инстансе
	if err := b.rdb.Publish(context.Background(), infra.RedisChanQuotaSignal, payload).Err(); err != nil {
		b.logger.Warn("quota signal delivery failed", zap.Error(err))
	}
}
