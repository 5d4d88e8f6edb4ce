package health

import "context"

// IndexChecker reports whether a vector index is ready to serve.
type IndexChecker interface {
	Ready() error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}
