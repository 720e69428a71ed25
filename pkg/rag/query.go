package rag

import (
	"context"
	"log"
	"time"

	"github.com/xhad/sift/internal/models"
	"github.com/xhad/sift/pkg/chunker"
)

// FallbackResponse is returned whenever the query pipeline fails after
// the request was accepted. Degrading to a canned answer beats a raw
// error for a chat-style interface.
const FallbackResponse = "Sorry, something went wrong while processing your query. Please try again."

// unclearResponse is returned when cleaning leaves nothing to embed.
const unclearResponse = "I could not understand your query. Could you rephrase it?"

// noContextPlaceholder stands in for retrieved text when the search
// comes back empty; the system prompt instructs the model to admit the
// missing grounding instead of inventing one.
const noContextPlaceholder = "No relevant documents were found for this query."

// QueryRequest is one question against the index.
type QueryRequest struct {
	Query       string
	DocumentIDs []int
	TopK        int
	Debug       bool
}

// Retrieve embeds the cleaned query and fetches the top-K nearest
// chunks, optionally restricted to specific documents. A k larger than
// the collection returns everything available.
func (s *Service) Retrieve(ctx context.Context, query string, k int, docFilter []int) ([]models.SearchResult, string, error) {
	clean := chunker.CleanQuery(query)
	if clean == "" {
		return nil, "", nil
	}

	vector, err := s.embedder.EmbedQuery(ctx, clean)
	if err != nil {
		return nil, clean, err
	}

	if k <= 0 {
		k = s.config.TopK
	}

	s.reindexMu.RLock()
	defer s.reindexMu.RUnlock()
	results, err := s.store.Search(ctx, vector, k, docFilter)
	if err != nil {
		return nil, clean, err
	}

	return results, clean, nil
}

// Query runs the full query path: clean and embed the question,
// retrieve grounding chunks, assemble the context, generate the answer.
// Failures never propagate as errors; they degrade to the fallback
// response so the chat surface stays up.
func (s *Service) Query(ctx context.Context, req QueryRequest) *models.ChatResponse {
	start := time.Now()

	respond := func(text string, results []models.SearchResult, clean string) *models.ChatResponse {
		resp := &models.ChatResponse{
			Response:       text,
			ProcessingTime: time.Since(start).Seconds(),
		}
		if req.Debug {
			info := &models.DebugInfo{
				Query:      req.Query,
				CleanQuery: clean,
				NumResults: len(results),
				Sources:    make([]string, 0, len(results)),
				Scores:     make([]float64, 0, len(results)),
			}
			for _, r := range results {
				info.Sources = append(info.Sources, r.SourceFile)
				info.Scores = append(info.Scores, r.Score)
			}
			resp.DebugInfo = info
		}
		return resp
	}

	results, clean, err := s.Retrieve(ctx, req.Query, req.TopK, req.DocumentIDs)
	if err != nil {
		log.Printf("rag: retrieval failed: %v", err)
		return respond(FallbackResponse, nil, clean)
	}
	if clean == "" {
		return respond(unclearResponse, nil, clean)
	}

	contextText, _ := BuildContext(results)
	if len(results) == 0 {
		log.Printf("rag: no relevant chunks for query %q", req.Query)
		contextText = noContextPlaceholder
	}

	answer, err := s.generator.Generate(ctx, contextText, req.Query)
	if err != nil {
		log.Printf("rag: generation failed: %v", err)
		return respond(FallbackResponse, results, clean)
	}

	return respond(answer, results, clean)
}
