package llm

import (
	"context"
	"fmt"
	"time"
)

// CompletionRequest — запрос к reasoning-бэкенду.
type CompletionRequest struct {
	Model  string
	System string
	Prompt string
}

// CompletionResponse — ответ бэкенда.
type CompletionResponse struct {
	Content      string
	InputTokens  int64
	OutputTokens int64
}

// Backend — граница с upstream reasoning-бэкендом.
// Ошибки классифицируются на rate_limited (RateLimitError) и прочие.
type Backend interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// RateLimitError — upstream дросселирует. RetryAfter nil — подсказки не было.
type RateLimitError struct {
	StatusCode int
	RetryAfter *time.Duration
	Cause      error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited [%d]: %v", e.StatusCode, e.Cause)
}

func (e *RateLimitError) Unwrap() error { return e.Cause }
