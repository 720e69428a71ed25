package types

import (
	"context"

	"github.com/xhad/sift/internal/models"
)

// Extractor pulls page text out of a document's raw bytes.
type Extractor interface {
	Extract(ctx context.Context, data []byte) ([]models.Page, error)
	Supports(fileType string) bool
}

// Chunker splits extracted text into overlapping bounded segments.
type Chunker interface {
	Split(text string) []string
}

// Embedder turns text into fixed-dimension vectors. Embed is
// all-or-nothing over the batch and preserves input order. EmbedQuery
// applies the query-side prefix when the model is asymmetric.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	ModelName() string
}

// VectorStore persists documents and chunk vectors and serves
// similarity search.
type VectorStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id int) (*models.Document, error)
	ListDocuments(ctx context.Context, opts ListOptions) ([]models.Document, int, error)
	DeleteDocument(ctx context.Context, id int) error
	MarkProcessed(ctx context.Context, id int, chunksCount int, processed bool) error

	ReplaceCollection(ctx context.Context) error
	AddChunks(ctx context.Context, docID int, chunks []models.Chunk, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, k int, docFilter []int) ([]models.SearchResult, error)

	Ping(ctx context.Context) error
	Close()
}

// ListOptions controls document listing.
type ListOptions struct {
	Limit      int
	Offset     int
	SortBy     string
	Order      string
	NameFilter string
}

// Generator produces an answer from assembled context and a question.
type Generator interface {
	Generate(ctx context.Context, contextText, query string) (string, error)
}
