package domain

// Kind distinguishes the two corpus collections.
type Kind string

const (
	// KindContent marks textbook chapter text.
	KindContent Kind = "content"
	// KindImage marks image descriptions.
	KindImage Kind = "image"
)

// Metadata describes where a document (or chunk) came from.
type Metadata struct {
	Kind          Kind
	ChapterNumber int
	ChapterName   string
	ImageID       string
	ImageURL      string
}

// Document is a single corpus item. Immutable after load.
type Document struct {
	Text     string
	Metadata Metadata
}

// Chunk is a contiguous span of a document's text; the unit that is
// embedded and indexed. Carries a copy of the parent metadata.
type Chunk struct {
	Text     string
	Metadata Metadata
}

// SearchResult is one nearest-neighbor match, scored by similarity.
type SearchResult struct {
	Chunk Chunk
	Score float32
}
