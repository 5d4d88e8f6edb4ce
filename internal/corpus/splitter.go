package corpus

import "github.com/kailas-cloud/ragdex/internal/domain"

// Default splitting constants for the corpus.
const (
	// DefaultChunkSize is the target chunk length in runes.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is the number of runes shared between
	// consecutive chunks.
	DefaultChunkOverlap = 200
)

// Split produces fixed-size chunks with overlap from a single document.
// Offsets are rune-based so multi-byte text never splits mid-character.
// A document shorter than size yields exactly one chunk.
func Split(doc domain.Document, size, overlap int) []domain.Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap % size
	}

	runes := []rune(doc.Text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []domain.Chunk
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, domain.Chunk{
			Text:     string(runes[start:end]),
			Metadata: doc.Metadata,
		})
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// SplitDocuments splits every document, preserving document order.
func SplitDocuments(docs []domain.Document, size, overlap int) []domain.Chunk {
	var chunks []domain.Chunk
	for _, doc := range docs {
		chunks = append(chunks, Split(doc, size, overlap)...)
	}
	return chunks
}
