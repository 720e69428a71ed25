package rag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/xhad/sift/internal/models"
	"github.com/xhad/sift/internal/types"
	"github.com/xhad/sift/pkg/extractor"
	"github.com/xhad/sift/pkg/llm"
)

// ExtractorRegistry dispatches text extraction by file type.
type ExtractorRegistry interface {
	ExtractAs(ctx context.Context, fileType string, data []byte) ([]models.Page, error)
	Supports(fileType string) bool
}

type ServiceConfig struct {
	TopK int
}

// Service coordinates the ingestion pipeline (extract, chunk, embed,
// store) and the query pipeline (retrieve, assemble, generate). All
// collaborators are injected once at construction.
type Service struct {
	config    ServiceConfig
	extractor ExtractorRegistry
	chunker   types.Chunker
	embedder  types.Embedder
	store     types.VectorStore
	generator types.Generator

	// reindexMu gives a running reindex exclusive access to the
	// collection; queries take the read side.
	reindexMu sync.RWMutex

	// docMu serializes concurrent ingestion of the same filename.
	docMu sync.Mutex
	inRun map[string]*docLock
}

// docLock is a reference-counted per-filename mutex; the entry leaves
// the map when the last holder releases it.
type docLock struct {
	mu   sync.Mutex
	refs int
}

func NewService(
	config ServiceConfig,
	reg ExtractorRegistry,
	chunker types.Chunker,
	embedder types.Embedder,
	store types.VectorStore,
	generator types.Generator,
) *Service {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	return &Service{
		config:    config,
		extractor: reg,
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		generator: generator,
		inRun:     make(map[string]*docLock),
	}
}

func (s *Service) lockDoc(name string) *docLock {
	s.docMu.Lock()
	l, ok := s.inRun[name]
	if !ok {
		l = &docLock{}
		s.inRun[name] = l
	}
	l.refs++
	s.docMu.Unlock()

	l.mu.Lock()
	return l
}

func (s *Service) unlockDoc(name string, l *docLock) {
	l.mu.Unlock()

	s.docMu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.inRun, name)
	}
	s.docMu.Unlock()
}

// IngestDocument runs one document through the full ingestion path.
// Extraction failures and empty documents are recorded on the document
// row and reported in the result, not returned as errors; embedding and
// store failures abort this document and surface to the caller.
func (s *Service) IngestDocument(ctx context.Context, filename, fileType string, data []byte, metadata map[string]interface{}) (*models.IngestResult, error) {
	l := s.lockDoc(filename)
	defer s.unlockDoc(filename, l)

	doc := &models.Document{
		Filename: filename,
		FileType: fileType,
		Content:  data,
		SizeKB:   float64(len(data)) / 1024.0,
		Metadata: metadata,
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	result := &models.IngestResult{
		DocumentID: doc.ID,
		Filename:   filename,
		SizeKB:     doc.SizeKB,
	}

	chunks, err := s.buildChunks(ctx, fileType, data)
	if err != nil {
		var exErr *extractor.ExtractionError
		if errors.As(err, &exErr) {
			log.Printf("rag: extraction failed for document %d (%s): %v", doc.ID, filename, err)
			if markErr := s.store.MarkProcessed(ctx, doc.ID, 0, false); markErr != nil {
				return nil, markErr
			}
			result.Message = fmt.Sprintf("extraction failed: %v", exErr.Err)
			return result, nil
		}
		return nil, err
	}

	if len(chunks) == 0 {
		log.Printf("rag: document %d (%s) yielded no extractable text", doc.ID, filename)
		if err := s.store.MarkProcessed(ctx, doc.ID, 0, false); err != nil {
			return nil, err
		}
		result.Message = "document contains no extractable text"
		return result, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	s.reindexMu.RLock()
	err = s.store.AddChunks(ctx, doc.ID, chunks, vectors)
	s.reindexMu.RUnlock()
	if err != nil {
		return nil, err
	}

	if err := s.store.MarkProcessed(ctx, doc.ID, len(chunks), true); err != nil {
		return nil, err
	}

	result.ChunksCount = len(chunks)
	result.Processed = true
	result.Message = fmt.Sprintf("indexed %d chunks", len(chunks))
	return result, nil
}

// buildChunks extracts page text and splits it, keeping the page number
// and a document-wide position on every chunk.
func (s *Service) buildChunks(ctx context.Context, fileType string, data []byte) ([]models.Chunk, error) {
	pages, err := s.extractor.ExtractAs(ctx, fileType, data)
	if err != nil {
		return nil, err
	}

	var chunks []models.Chunk
	position := 0
	for _, page := range pages {
		for _, text := range s.chunker.Split(page.Text) {
			chunks = append(chunks, models.Chunk{
				Text:     text,
				Page:     page.Number,
				Position: position,
			})
			position++
		}
	}

	return chunks, nil
}

// BatchItem is one document of an ingestion batch.
type BatchItem struct {
	Filename string
	FileType string
	Data     []byte
	Metadata map[string]interface{}
}

// IngestBatch processes documents independently: a failure in one
// document is recorded and does not abort the rest.
func (s *Service) IngestBatch(ctx context.Context, items []BatchItem) []models.IngestResult {
	results := make([]models.IngestResult, 0, len(items))
	for _, item := range items {
		res, err := s.IngestDocument(ctx, item.Filename, item.FileType, item.Data, item.Metadata)
		if err != nil {
			log.Printf("rag: ingestion failed for %s: %v", item.Filename, err)
			results = append(results, models.IngestResult{
				Filename: item.Filename,
				Message:  fmt.Sprintf("ingestion failed: %v", err),
			})
			continue
		}
		results = append(results, *res)
	}
	return results
}

// Reindex rebuilds the whole collection from the stored document
// binaries: drop and recreate, then re-extract, re-chunk and re-embed
// every document. The collection is exclusively locked for the
// duration, so no query observes a half-populated index.
func (s *Service) Reindex(ctx context.Context) ([]models.IngestResult, error) {
	s.reindexMu.Lock()
	defer s.reindexMu.Unlock()

	docs, _, err := s.store.ListDocuments(ctx, types.ListOptions{Limit: 1 << 30})
	if err != nil {
		return nil, err
	}

	if err := s.store.ReplaceCollection(ctx); err != nil {
		return nil, err
	}

	var results []models.IngestResult
	for _, doc := range docs {
		res := models.IngestResult{DocumentID: doc.ID, Filename: doc.Filename, SizeKB: doc.SizeKB}

		full, err := s.store.GetDocument(ctx, doc.ID)
		if err != nil {
			return nil, err
		}

		chunks, err := s.buildChunks(ctx, full.FileType, full.Content)
		if err != nil || len(chunks) == 0 {
			if err != nil {
				log.Printf("rag: reindex extraction failed for document %d: %v", doc.ID, err)
				res.Message = fmt.Sprintf("extraction failed: %v", err)
			} else {
				res.Message = "document contains no extractable text"
			}
			if markErr := s.store.MarkProcessed(ctx, doc.ID, 0, false); markErr != nil {
				return nil, markErr
			}
			results = append(results, res)
			continue
		}

		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err := s.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, err
		}
		if err := s.store.AddChunks(ctx, doc.ID, chunks, vectors); err != nil {
			return nil, err
		}
		if err := s.store.MarkProcessed(ctx, doc.ID, len(chunks), true); err != nil {
			return nil, err
		}

		res.ChunksCount = len(chunks)
		res.Processed = true
		res.Message = fmt.Sprintf("indexed %d chunks", len(chunks))
		results = append(results, res)
	}

	return results, nil
}

// ComponentStatus is one entry of the health report.
type ComponentStatus string

const (
	StatusHealthy   ComponentStatus = "healthy"
	StatusUnhealthy ComponentStatus = "unhealthy"
	StatusUnknown   ComponentStatus = "unknown"
)

// Health probes each collaborator that can be probed cheaply. The LLM
// is reported unknown: the only way to verify it is a paid generation
// call.
func (s *Service) Health(ctx context.Context) map[string]ComponentStatus {
	status := map[string]ComponentStatus{
		"database":  StatusHealthy,
		"embedding": StatusHealthy,
		"llm":       StatusUnknown,
	}

	if err := s.store.Ping(ctx); err != nil {
		log.Printf("rag: database health check failed: %v", err)
		status["database"] = StatusUnhealthy
	}

	if _, err := s.embedder.EmbedQuery(ctx, "ping"); err != nil {
		log.Printf("rag: embedding health check failed: %v", err)
		status["embedding"] = StatusUnhealthy
	}

	return status
}

// EmbedderStats reports cache effectiveness when the embedder tracks it.
func (s *Service) EmbedderStats() (llm.CacheStats, bool) {
	if p, ok := s.embedder.(interface{ Stats() llm.CacheStats }); ok {
		return p.Stats(), true
	}
	return llm.CacheStats{}, false
}
