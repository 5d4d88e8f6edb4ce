package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// ParseReply strips optional markdown code fences from a model reply
// and parses it as the structured graph payload. The raw reply is
// returned even on failure, for diagnostics.
func ParseReply(raw string) (domain.CompletionResult, error) {
	result := domain.CompletionResult{RawReply: raw}

	cleaned := stripFences(raw)
	if err := json.Unmarshal([]byte(cleaned), &result.Data); err != nil {
		return result, fmt.Errorf("parse reply: %v: %w", err, domain.ErrMalformedReply)
	}
	return result, nil
}

// stripFences removes ``` and ```json delimiters anywhere in the text,
// then trims whitespace.
func stripFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
