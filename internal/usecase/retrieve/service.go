// Package retrieve runs similarity search against both corpus indexes
// for a single query.
package retrieve

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/ragdex/internal/domain"
	"github.com/kailas-cloud/ragdex/internal/metrics"
)

// Default result counts per index.
const (
	DefaultContentK = 10
	DefaultImageK   = 5
)

// Retrieved holds the raw per-index search results, unmerged.
type Retrieved struct {
	Content []domain.SearchResult
	Images  []domain.SearchResult
}

// Service embeds a query once and queries both indexes independently.
type Service struct {
	content  Index
	images   Index
	embed    Embedder
	contentK int
	imageK   int
}

// New creates a retrieval service with default top-k values.
func New(content, images Index, embed Embedder) *Service {
	return &Service{
		content:  content,
		images:   images,
		embed:    embed,
		contentK: DefaultContentK,
		imageK:   DefaultImageK,
	}
}

// WithTopK overrides the per-index result counts. Non-positive values
// keep the defaults.
func (s *Service) WithTopK(contentK, imageK int) *Service {
	if contentK > 0 {
		s.contentK = contentK
	}
	if imageK > 0 {
		s.imageK = imageK
	}
	return s
}

// Search embeds the query once and runs both top-k lookups.
func (s *Service) Search(ctx context.Context, query string) (Retrieved, error) {
	res, err := s.embed.Embed(ctx, query)
	if err != nil {
		return Retrieved{}, fmt.Errorf("vectorize query: %w", err)
	}

	content, err := s.content.Query(res.Embedding, s.contentK)
	if err != nil {
		return Retrieved{}, fmt.Errorf("query content index: %w", err)
	}

	images, err := s.images.Query(res.Embedding, s.imageK)
	if err != nil {
		return Retrieved{}, fmt.Errorf("query image index: %w", err)
	}

	metrics.RetrievalResultsTotal.WithLabelValues("content").Add(float64(len(content)))
	metrics.RetrievalResultsTotal.WithLabelValues("image").Add(float64(len(images)))

	return Retrieved{Content: content, Images: images}, nil
}
