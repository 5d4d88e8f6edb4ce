// Package llm provides the completion backends: a synchronous
// chat-completions client and an asynchronous assistant-run client
// driven by a polling state machine.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/metrics"
)

// ChatClient sends a single chat-completions request carrying the
// system prompt and the assembled user prompt.
type ChatClient struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// ChatConfig holds the chat completion backend settings.
type ChatConfig struct {
	APIKey  string
	BaseURL string // e.g. https://api.deepseek.com/v1
	Model   string // e.g. deepseek-chat
	// RPS throttles outbound calls; zero disables throttling.
	RPS    float64
	Logger *zap.Logger
}

// NewChatClient creates a chat completion client for any
// OpenAI-compatible endpoint.
func NewChatClient(cfg ChatConfig) (*ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("completion api key is required: %w", domain.ErrCompletionService)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), 1)
	}

	return &ChatClient{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		limiter: limiter,
		logger:  cfg.Logger,
	}, nil
}

// Complete implements the completion contract over one blocking request.
func (c *ChatClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("completion throttle: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	duration := time.Since(start)

	if err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues("chat", "error").Inc()
		return "", mapCompletionError(err)
	}

	metrics.CompletionRequestsTotal.WithLabelValues("chat", "success").Inc()
	metrics.CompletionRequestDuration.WithLabelValues("chat").Observe(duration.Seconds())

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response: %w", domain.ErrCompletionService)
	}

	return resp.Choices[0].Message.Content, nil
}

// mapCompletionError converts client errors into the domain taxonomy,
// preserving upstream status and body.
func mapCompletionError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.NewCompletionServiceError(apiErr.HTTPStatusCode, apiErr.Message)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return domain.NewCompletionServiceError(reqErr.HTTPStatusCode, string(reqErr.Body))
	}

	return fmt.Errorf("completion request failed: %v: %w", err, domain.ErrCompletionService)
}
