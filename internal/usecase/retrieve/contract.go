package retrieve

import (
	"context"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// Index runs top-k nearest-neighbor lookups over one corpus collection.
type Index interface {
	Query(vector []float32, k int) ([]domain.SearchResult, error)
}

// Embedder vectorizes the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
