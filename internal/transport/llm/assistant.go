package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/metrics"
)

// AssistantClient runs completions through the asynchronous
// assistants API: create thread, post message, start run, poll.
type AssistantClient struct {
	client      *openai.Client
	assistantID string
	poller      *RunPoller
	logger      *zap.Logger
}

// AssistantConfig holds the assistant backend settings.
type AssistantConfig struct {
	APIKey      string
	BaseURL     string
	AssistantID string
	Poller      PollerConfig
	Logger      *zap.Logger
}

// NewAssistantClient creates an assistant-run completion client.
func NewAssistantClient(cfg AssistantConfig) (*AssistantClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("completion api key is required: %w", domain.ErrCompletionService)
	}
	if cfg.AssistantID == "" {
		return nil, fmt.Errorf("assistant id is required: %w", domain.ErrCompletionService)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &AssistantClient{
		client:      openai.NewClientWithConfig(clientCfg),
		assistantID: cfg.AssistantID,
		poller:      NewRunPoller(cfg.Poller),
		logger:      cfg.Logger,
	}, nil
}

// Complete posts the user prompt to a fresh thread and awaits the run.
// systemPrompt overrides the assistant's stored instructions when set.
func (a *AssistantClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()

	thread, err := a.client.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues("assistant", "error").Inc()
		return "", mapCompletionError(err)
	}

	if _, err = a.client.CreateMessage(ctx, thread.ID, openai.MessageRequest{
		Role:    string(openai.ThreadMessageRoleUser),
		Content: userPrompt,
	}); err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues("assistant", "error").Inc()
		return "", mapCompletionError(err)
	}

	runReq := openai.RunRequest{AssistantID: a.assistantID}
	if systemPrompt != "" {
		runReq.Instructions = systemPrompt
	}
	run, err := a.client.CreateRun(ctx, thread.ID, runReq)
	if err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues("assistant", "error").Inc()
		return "", mapCompletionError(err)
	}

	state, err := a.poller.Await(ctx, a.statusCheck(thread.ID, run.ID))
	if err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues("assistant", "error").Inc()
		return "", err
	}
	if state != StateCompleted {
		metrics.CompletionRequestsTotal.WithLabelValues("assistant", "error").Inc()
		return "", fmt.Errorf("run ended %s: %w", state, domain.ErrCompletionService)
	}

	reply, err := a.latestAssistantReply(ctx, thread.ID)
	if err != nil {
		metrics.CompletionRequestsTotal.WithLabelValues("assistant", "error").Inc()
		return "", err
	}

	metrics.CompletionRequestsTotal.WithLabelValues("assistant", "success").Inc()
	// End-to-end duration including the polling waits.
	metrics.CompletionRequestDuration.WithLabelValues("assistant").Observe(time.Since(start).Seconds())
	return reply, nil
}

// statusCheck adapts RetrieveRun to the poller's contract.
func (a *AssistantClient) statusCheck(threadID, runID string) StatusCheck {
	return func(ctx context.Context) (RunState, error) {
		run, err := a.client.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			a.logger.Warn("Failed to retrieve run status",
				zap.String("run_id", runID), zap.Error(err))
			return "", fmt.Errorf("retrieve run: %w", err)
		}

		switch run.Status {
		case openai.RunStatusCompleted:
			return StateCompleted, nil
		case openai.RunStatusFailed:
			return StateFailed, nil
		case openai.RunStatusCancelled:
			return StateCancelled, nil
		case openai.RunStatusInProgress:
			return StateRunning, nil
		default:
			return StateQueued, nil
		}
	}
}

func (a *AssistantClient) latestAssistantReply(ctx context.Context, threadID string) (string, error) {
	msgs, err := a.client.ListMessage(ctx, threadID, nil, nil, nil, nil, nil)
	if err != nil {
		return "", mapCompletionError(err)
	}

	for _, m := range msgs.Messages {
		if m.Role != openai.ChatMessageRoleAssistant {
			continue
		}
		for _, part := range m.Content {
			if part.Text != nil && part.Text.Value != "" {
				return part.Text.Value, nil
			}
		}
	}

	return "", fmt.Errorf("assistant reply is empty: %w", domain.ErrCompletionService)
}
