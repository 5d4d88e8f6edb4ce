// Package chat composes retrieval, context assembly, and the
// completion call behind one entry point.
package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/usecase/assemble"
	"github.com/kailas-cloud/ragdex/internal/usecase/retrieve"
)

// Service is the query pipeline: retrieve, assemble, complete, parse.
type Service struct {
	retriever    Retriever
	completer    Completer
	systemPrompt string
	retrievalOff bool
	logger       *zap.Logger
}

// New creates the pipeline service.
func New(retriever Retriever, completer Completer, systemPrompt string, logger *zap.Logger) *Service {
	return &Service{
		retriever:    retriever,
		completer:    completer,
		systemPrompt: systemPrompt,
		logger:       logger,
	}
}

// WithRetrievalDisabled turns the retrieval stage off; the prompt is
// then assembled from empty result sets.
func (s *Service) WithRetrievalDisabled(off bool) *Service {
	s.retrievalOff = off
	return s
}

// Ask answers one user message: grounds it against the corpus and asks
// the completion backend for the structured graph reply.
func (s *Service) Ask(ctx context.Context, message string) (domain.CompletionResult, error) {
	var retrieved retrieve.Retrieved
	if !s.retrievalOff {
		var err error
		retrieved, err = s.retriever.Search(ctx, message)
		if err != nil {
			return domain.CompletionResult{}, fmt.Errorf("retrieve context: %w", err)
		}
	}

	userPrompt, err := assemble.Assemble(retrieved.Content, retrieved.Images, message)
	if err != nil {
		return domain.CompletionResult{}, fmt.Errorf("assemble prompt: %w", err)
	}

	reply, err := s.completer.Complete(ctx, s.systemPrompt, userPrompt)
	if err != nil {
		return domain.CompletionResult{}, err
	}

	result, err := ParseReply(reply)
	if err != nil {
		s.logger.Error("Completion reply is not valid JSON",
			zap.String("reply", result.RawReply),
			zap.Error(err),
		)
		return result, err
	}

	return result, nil
}
