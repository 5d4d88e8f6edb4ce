package index

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragdex/internal/corpus"
	"github.com/kailas-cloud/ragdex/internal/domain"
)

// DocumentSource loads the documents an index is rebuilt from.
type DocumentSource func() ([]domain.Document, error)

// Manager owns one persisted index: it loads it from disk when a valid
// artifact exists, deletes and rebuilds it otherwise. Initialization is
// single-flight; concurrent callers share one in-flight Ensure.
type Manager struct {
	name      string
	dir       string
	source    DocumentSource
	embedder  domain.Embedder
	dimension int
	logger    *zap.Logger

	once  sync.Once
	index *Index
	err   error
}

// NewManager creates a lifecycle manager for one logical index.
func NewManager(
	name, dir string,
	source DocumentSource,
	embedder domain.Embedder,
	dimension int,
	logger *zap.Logger,
) *Manager {
	return &Manager{
		name:      name,
		dir:       dir,
		source:    source,
		embedder:  embedder,
		dimension: dimension,
		logger:    logger,
	}
}

// Ensure loads or rebuilds the index exactly once per process.
// Every caller gets the outcome of the same initialization.
func (m *Manager) Ensure(ctx context.Context) error {
	m.once.Do(func() {
		m.index, m.err = m.loadOrRebuild(ctx)
	})
	return m.err
}

// Index returns the ready index, or ErrNotInitialized before a
// successful Ensure.
func (m *Manager) Index() (*Index, error) {
	if m.index == nil {
		return nil, fmt.Errorf("index %s: %w", m.name, domain.ErrNotInitialized)
	}
	return m.index, nil
}

// Ready reports whether the index can serve queries.
func (m *Manager) Ready() error {
	_, err := m.Index()
	return err
}

// Query runs a top-k lookup against the managed index.
func (m *Manager) Query(vector []float32, k int) ([]domain.SearchResult, error) {
	ix, err := m.Index()
	if err != nil {
		return nil, err
	}
	return ix.Query(vector, k)
}

func (m *Manager) loadOrRebuild(ctx context.Context) (*Index, error) {
	if dirNonEmpty(m.dir) {
		ix, err := Load(m.dir, m.dimension)
		if err == nil {
			m.logger.Info("Loaded persisted index",
				zap.String("index", m.name),
				zap.Int("chunks", ix.Len()),
				zap.Int("dimension", ix.Dimension()),
			)
			return ix, nil
		}

		// Corrupt artifact: remove it and fall through to rebuild.
		m.logger.Warn("Failed to load persisted index, rebuilding",
			zap.String("index", m.name),
			zap.Error(err),
		)
		if rmErr := os.RemoveAll(m.dir); rmErr != nil {
			return nil, fmt.Errorf("remove corrupt index %s: %w", m.name, rmErr)
		}
	}

	return m.rebuild(ctx)
}

func (m *Manager) rebuild(ctx context.Context) (*Index, error) {
	docs, err := m.source()
	if err != nil {
		return nil, fmt.Errorf("load documents for %s: %w: %w", m.name, err, domain.ErrIndexBuild)
	}

	chunks := corpus.SplitDocuments(docs, corpus.DefaultChunkSize, corpus.DefaultChunkOverlap)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("empty corpus for %s: %w", m.name, domain.ErrIndexBuild)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := m.embedChunks(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks for %s: %w: %w", m.name, err, domain.ErrIndexBuild)
	}

	ix, err := Build(chunks, vectors, m.dimension)
	if err != nil {
		return nil, fmt.Errorf("build index %s: %w", m.name, err)
	}

	if err := ix.Save(m.dir); err != nil {
		return nil, fmt.Errorf("save index %s: %w: %w", m.name, err, domain.ErrIndexBuild)
	}

	m.logger.Info("Rebuilt index",
		zap.String("index", m.name),
		zap.Int("documents", len(docs)),
		zap.Int("chunks", ix.Len()),
	)
	return ix, nil
}

func (m *Manager) embedChunks(ctx context.Context, texts []string) ([][]float32, error) {
	if be, ok := m.embedder.(domain.BatchEmbedder); ok {
		res, err := be.BatchEmbed(ctx, texts)
		if err != nil {
			return nil, err
		}
		return res.Embeddings, nil
	}
	res, err := domain.BatchFallback(ctx, m.embedder, texts)
	if err != nil {
		return nil, err
	}
	return res.Embeddings, nil
}

// dirNonEmpty is the load-vs-rebuild signal: the directory exists and
// holds at least one entry.
func dirNonEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}
