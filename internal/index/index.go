// Package index implements the persisted nearest-neighbor index over
// embedded corpus chunks, plus the load-or-rebuild lifecycle around it.
package index

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

const indexFileName = "index.gob"

// persisted is the on-disk form of an index.
type persisted struct {
	Chunks    []domain.Chunk
	Vectors   [][]float32
	Dimension int
}

// Index is an in-memory vector index. Chunks[i] corresponds to
// Vectors[i]; every vector has length Dimension. Read-only after Build
// or Load, so concurrent queries need no locking.
type Index struct {
	chunks    []domain.Chunk
	vectors   [][]float32
	dimension int
}

// Build creates an index from parallel chunk/vector slices.
// The chunk set must be non-empty and every vector must have dimension dim.
func Build(chunks []domain.Chunk, vectors [][]float32, dim int) (*Index, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("empty chunk set: %w", domain.ErrIndexBuild)
	}
	if len(chunks) != len(vectors) {
		return nil, fmt.Errorf("%d chunks vs %d vectors: %w",
			len(chunks), len(vectors), domain.ErrIndexBuild)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d: %w",
				i, len(v), dim, domain.ErrIndexBuild)
		}
	}
	return &Index{chunks: chunks, vectors: vectors, dimension: dim}, nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int { return len(ix.chunks) }

// Dimension returns the vector dimension of the index.
func (ix *Index) Dimension() int { return ix.dimension }

// Query returns up to k chunks closest to the query vector under cosine
// similarity, ordered by descending score. Ties keep insertion order.
func (ix *Index) Query(vector []float32, k int) ([]domain.SearchResult, error) {
	if len(vector) != ix.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, want %d",
			len(vector), ix.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	results := make([]domain.SearchResult, 0, len(ix.chunks))
	for i := range ix.chunks {
		results = append(results, domain.SearchResult{
			Chunk: ix.chunks[i],
			Score: cosineSimilarity(vector, ix.vectors[i]),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// Save persists the index into dir as a single gob file, written
// atomically via tmp+rename.
func (ix *Index) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}

	path := filepath.Join(dir, indexFileName)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}

	enc := gob.NewEncoder(f)
	if err := enc.Encode(persisted{
		Chunks:    ix.chunks,
		Vectors:   ix.vectors,
		Dimension: ix.dimension,
	}); err != nil {
		f.Close()
		return fmt.Errorf("encode index: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close index file: %w", err)
	}

	return os.Rename(tmp, path)
}

// Load reads a persisted index from dir. wantDim is the current
// embedding dimension; any deserialization failure or dimension
// mismatch yields ErrIndexCorrupt.
func Load(dir string, wantDim int) (*Index, error) {
	f, err := os.Open(filepath.Clean(filepath.Join(dir, indexFileName)))
	if err != nil {
		return nil, fmt.Errorf("open index: %w: %w", err, domain.ErrIndexCorrupt)
	}
	defer f.Close()

	var p persisted
	if err := gob.NewDecoder(f).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode index: %w: %w", err, domain.ErrIndexCorrupt)
	}

	if p.Dimension != wantDim {
		return nil, fmt.Errorf("index dimension %d, embedder dimension %d: %w",
			p.Dimension, wantDim, domain.ErrIndexCorrupt)
	}
	if len(p.Chunks) == 0 || len(p.Chunks) != len(p.Vectors) {
		return nil, fmt.Errorf("index has %d chunks and %d vectors: %w",
			len(p.Chunks), len(p.Vectors), domain.ErrIndexCorrupt)
	}
	for i, v := range p.Vectors {
		if len(v) != p.Dimension {
			return nil, fmt.Errorf("vector %d has dimension %d: %w",
				i, len(v), domain.ErrIndexCorrupt)
		}
	}

	return &Index{chunks: p.Chunks, vectors: p.Vectors, dimension: p.Dimension}, nil
}

// cosineSimilarity returns a value in [-1, 1]; zero vectors score 0.
func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
