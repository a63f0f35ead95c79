package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/agentsql/agentsql/internal/observability"
)

const (
	DefaultModel       = "gpt-4"
	DefaultMaxAttempts = 5
)

type OpenAIConfig struct {
	BaseURL      string
	APIKey       string
	Organization string
	Model        string
	Temperature  float64
	Timeout      time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
	Seed         *int
}

type OpenAITranslator struct {
	client      *goopenai.Client
	model       string
	temperature float32
	seed        *int
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

func NewOpenAITranslator(cfg OpenAIConfig, logger *slog.Logger) (*OpenAITranslator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.MaxAttempts < 0 {
		return nil, fmt.Errorf("max attempts must be >= 0")
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	clientConfig := goopenai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(baseURL, "/")
	}
	clientConfig.OrgID = strings.TrimSpace(cfg.Organization)
	clientConfig.HTTPClient = &http.Client{Timeout: timeout}

	return &OpenAITranslator{
		client:      goopenai.NewClientWithConfig(clientConfig),
		model:       model,
		temperature: float32(cfg.Temperature),
		seed:        cfg.Seed,
		maxAttempts: maxAttempts,
		retryDelay:  cfg.RetryDelay,
		logger:      logger.With(slog.String("module", "openai")),
	}, nil
}

func (t *OpenAITranslator) Translate(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Result{}, fmt.Errorf("prompt is required")
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = t.model
	}

	var lastErr error
	for attempt := 0; attempt < t.maxAttempts; attempt++ {
		if attempt > 0 {
			observability.IncrementLLMRetry(model)
			t.logger.Warn("llm_request_retry",
				slog.String("trace_id", observability.TraceIDFromContext(ctx)),
				slog.String("model", model),
				slog.Int("attempt", attempt),
				slog.String("error", lastErr.Error()),
			)
			if err := sleepContext(ctx, t.retryDelay); err != nil {
				return Result{}, err
			}
		}

		result, err := t.complete(ctx, model, req.Prompt)
		if err == nil {
			observability.ObserveLLMRequest(model, result.PromptTokens, result.CompletionTokens, result.CostUSD, nil)
			return result, nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			break
		}
	}

	observability.ObserveLLMRequest(model, 0, 0, 0, lastErr)
	return Result{}, fmt.Errorf("chat completion with model %q: %w", model, lastErr)
}

func (t *OpenAITranslator) complete(ctx context.Context, model, prompt string) (Result, error) {
	resp, err := t.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: t.temperature,
		Seed:        t.seed,
	})
	if err != nil {
		return Result{}, fmt.Errorf("request chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, errors.New("empty chat completion choices")
	}

	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return Result{}, errors.New("model returned empty completion")
	}

	promptTokens := resp.Usage.PromptTokens
	completionTokens := resp.Usage.CompletionTokens
	if promptTokens == 0 {
		promptTokens = estimateTokens(prompt)
	}
	if completionTokens == 0 {
		completionTokens = estimateTokens(text)
	}

	return Result{
		Text:             text,
		SQL:              PostprocessSQL(text),
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CostUSD:          EstimateCost(model, promptTokens),
	}, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
