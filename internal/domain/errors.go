package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrModelLoad signals missing or malformed embedding model configuration.
	ErrModelLoad = errors.New("embedding model load failed")
	// ErrEmbedding signals an embedding provider failure.
	ErrEmbedding = errors.New("embedding failed")
	// ErrIndexCorrupt signals that a persisted index could not be deserialized
	// or does not match the current embedding dimension.
	ErrIndexCorrupt = errors.New("index corrupt")
	// ErrIndexBuild signals a failed index rebuild.
	ErrIndexBuild = errors.New("index build failed")
	// ErrNotInitialized signals a query against an unready index.
	ErrNotInitialized = errors.New("index not initialized")
	// ErrCompletionService signals a completion backend failure.
	ErrCompletionService = errors.New("completion service error")
	// ErrMalformedReply signals a completion reply that is not valid JSON.
	ErrMalformedReply = errors.New("malformed completion reply")
	// ErrPollTimeout signals that run polling exhausted its attempt budget.
	ErrPollTimeout = errors.New("poll timeout")
	// ErrRateLimited signals a rate limit hit.
	ErrRateLimited = errors.New("rate limited")
)

// CompletionServiceError wraps ErrCompletionService with the upstream
// HTTP status and response body.
type CompletionServiceError struct {
	Status int
	Body   string
}

func (e *CompletionServiceError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", ErrCompletionService.Error(), e.Status, e.Body)
}

func (e *CompletionServiceError) Unwrap() error { return ErrCompletionService }

// NewCompletionServiceError creates a completion backend error.
func NewCompletionServiceError(status int, body string) error {
	return &CompletionServiceError{Status: status, Body: body}
}
