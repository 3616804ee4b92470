package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"github.com/xela07ax/erpai-decision-prototype/internal/infra"
	"golang.org/x/time/rate"
)

// ReliabilityWrapper прикрывает reasoning-бэкенд лимитером и предохранителем.
// Ретраев здесь нет намеренно: политика повторов — забота вызывающего,
// задача ядра — защитить upstream, а не скрыть его недоступность.
type ReliabilityWrapper struct {
	next    Backend
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliabilityWrapper(next Backend, cfg infra.EngineConfig) *ReliabilityWrapper {
	maxRequests := cfg.CBMaxRequests
	if maxRequests == 0 {
		maxRequests = 3
	}
	interval := cfg.CBInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	timeout := cfg.CBTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm-backend",
		MaxRequests: maxRequests,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Дросселирование ведет квотный предохранитель, а не CB:
			// иначе один 429 открыл бы оба контура сразу
			var rlErr *RateLimitError
			return errors.As(err, &rlErr)
		},
	})

	rps := cfg.RateLimitRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 5
	}

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (w *ReliabilityWrapper) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	// 2. Circuit Breaker
	result, err := w.cb.Execute(func() (interface{}, error) {
		return w.next.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	return result.(*CompletionResponse), nil
}
