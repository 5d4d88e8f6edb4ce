package chat

import (
	"context"

	"github.com/kailas-cloud/ragdex/internal/usecase/retrieve"
)

// Retriever runs similarity search for a query.
type Retriever interface {
	Search(ctx context.Context, query string) (retrieve.Retrieved, error)
}

// Completer sends the prompts to a completion backend and returns the
// raw reply text.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
