package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/xela07ax/erpai-decision-prototype/internal/infra"
)

// AnthropicBackend — адаптер SDK под интерфейс Backend.
type AnthropicBackend struct {
	client    anthropic.Client
	maxTokens int64
}

func NewAnthropicBackend(cfg infra.AnthropicConfig) *AnthropicBackend {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	// Пустой APIKey — SDK сам возьмет ANTHROPIC_API_KEY из окружения

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	return &AnthropicBackend{
		client:    anthropic.NewClient(opts...),
		maxTokens: maxTokens,
	}
}

func (b *AnthropicBackend) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: b.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return nil, classify(err)
	}

	var content string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			content += variant.Text
		}
	}

	return &CompletionResponse{
		Content:      content,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// classify разделяет дросселирование (429/529) и прочие отказы upstream.
func classify(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode == 529 {
			return &RateLimitError{
				StatusCode: apierr.StatusCode,
				RetryAfter: parseRetryAfter(apierr.Response),
				Cause:      err,
			}
		}
	}
	return fmt.Errorf("anthropic call failed: %w", err)
}

func parseRetryAfter(resp *http.Response) *time.Duration {
	if resp == nil {
		return nil
	}
	raw := resp.Header.Get("retry-after")
	if raw == "" {
		return nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return nil
	}
	d := time.Duration(secs) * time.Second
	return &d
}
