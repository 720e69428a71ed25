package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/sift/internal/models"
	"github.com/xhad/sift/internal/types"
	"github.com/xhad/sift/pkg/chunker"
	"github.com/xhad/sift/pkg/rag"
	"github.com/xhad/sift/pkg/store"
)

type stubRegistry struct{}

func (stubRegistry) ExtractAs(ctx context.Context, fileType string, data []byte) ([]models.Page, error) {
	return []models.Page{{Number: 1, Text: string(data)}}, nil
}

func (stubRegistry) Supports(fileType string) bool { return fileType == "pdf" }

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

func (stubEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 0}, nil
}

func (stubEmbedder) Dimension() int { return 3 }

func (stubEmbedder) ModelName() string { return "stub" }

type stubGenerator struct {
	response string
}

func (g stubGenerator) Generate(ctx context.Context, contextText, query string) (string, error) {
	return g.response, nil
}

type stubStore struct {
	mu      sync.Mutex
	docs    map[int]*models.Document
	chunks  map[int][]models.Chunk
	nextID  int
	pingErr error
}

func newStubStore() *stubStore {
	return &stubStore{
		docs:   make(map[int]*models.Document),
		chunks: make(map[int][]models.Chunk),
	}
}

func (s *stubStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	doc.ID = s.nextID
	doc.UploadedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

func (s *stubStore) GetDocument(ctx context.Context, id int) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, &store.ValidationError{Message: fmt.Sprintf("document %d not found", id)}
	}
	cp := *doc
	return &cp, nil
}

func (s *stubStore) ListDocuments(ctx context.Context, opts types.ListOptions) ([]models.Document, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]models.Document, 0, len(ids))
	for _, id := range ids {
		doc := *s.docs[id]
		if opts.NameFilter != "" && !strings.Contains(doc.Filename, opts.NameFilter) {
			continue
		}
		out = append(out, doc)
	}
	total := len(out)
	if opts.Offset > 0 && opts.Offset < len(out) {
		out = out[opts.Offset:]
	} else if opts.Offset >= len(out) {
		out = nil
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, total, nil
}

func (s *stubStore) DeleteDocument(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return &store.ValidationError{Message: fmt.Sprintf("document %d not found", id)}
	}
	delete(s.docs, id)
	delete(s.chunks, id)
	return nil
}

func (s *stubStore) MarkProcessed(ctx context.Context, id int, chunksCount int, processed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[id]; ok {
		doc.ChunksCount = chunksCount
		doc.Processed = processed
	}
	return nil
}

func (s *stubStore) ReplaceCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = make(map[int][]models.Chunk)
	return nil
}

func (s *stubStore) AddChunks(ctx context.Context, docID int, chunks []models.Chunk, vectors [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[docID] = append(s.chunks[docID], chunks...)
	return nil
}

func (s *stubStore) Search(ctx context.Context, vector []float32, k int, docFilter []int) ([]models.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var results []models.SearchResult
	for docID, chunks := range s.chunks {
		for _, c := range chunks {
			results = append(results, models.SearchResult{
				Chunk:      c,
				Score:      0.9,
				SourceFile: s.docs[docID].Filename,
			})
		}
	}
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

func (s *stubStore) Ping(ctx context.Context) error { return s.pingErr }

func (s *stubStore) Close() {}

func newTestServer(t *testing.T, config Config) (*Server, *stubStore) {
	t.Helper()
	st := newStubStore()
	ck, err := chunker.NewWithConfig(chunker.Config{ChunkSize: 200, ChunkOverlap: 20})
	require.NoError(t, err)
	svc := rag.NewService(rag.ServiceConfig{TopK: 5},
		stubRegistry{}, ck, stubEmbedder{}, st, stubGenerator{response: "generated answer"})
	return New(config, svc, st), st
}

func doJSON(t *testing.T, handler http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func uploadPDF(t *testing.T, handler http.Handler, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	handler := srv.Handler()

	uploadPDF(t, handler, "doc.pdf", "the quick brown fox jumps over the lazy dog")

	rec := doJSON(t, handler, http.MethodPost, "/api/chat",
		map[string]interface{}{"query": "quick fox", "debug": true})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.ChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "generated answer", resp.Response)
	require.NotNil(t, resp.DebugInfo)
	assert.Equal(t, "quick fox", resp.DebugInfo.Query)
	assert.Equal(t, 1, resp.DebugInfo.NumResults)
	assert.Equal(t, []string{"doc.pdf"}, resp.DebugInfo.Sources)
}

func TestChatEndpoint_MissingQuery(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodPost, "/api/chat", map[string]interface{}{"query": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, handler, http.MethodPost, "/api/chat", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	handler := srv.Handler()

	rec := uploadPDF(t, handler, "report.pdf", "annual report body text")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.ID)
	assert.Equal(t, "report.pdf", resp.Name)
	assert.Equal(t, "pdf", resp.FileType)
	assert.Equal(t, 1, resp.ChunksCount)
	assert.True(t, resp.Processed)
	assert.Equal(t, "indexed 1 chunks", resp.Message)
}

func TestUploadEndpoint_MissingFile(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	handler := srv.Handler()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadEndpoint_EmptyFile(t *testing.T) {
	srv, st := newTestServer(t, Config{})
	handler := srv.Handler()

	rec := uploadPDF(t, handler, "empty.pdf", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "empty")
	assert.Empty(t, st.docs, "an empty upload must not create a document record")
}

func TestListEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	handler := srv.Handler()

	uploadPDF(t, handler, "alpha.pdf", "first")
	uploadPDF(t, handler, "beta.pdf", "second")

	rec := doJSON(t, handler, http.MethodGet, "/api/documents?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Documents []documentItem `json:"documents"`
		Total     int            `json:"total"`
		Limit     int            `json:"limit"`
		Offset    int            `json:"offset"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 10, resp.Limit)
	require.Len(t, resp.Documents, 2)
	assert.Equal(t, "alpha.pdf", resp.Documents[0].Name)
	assert.True(t, resp.Documents[0].Processed)
	assert.NotEmpty(t, resp.Documents[0].UploadedAt)

	rec = doJSON(t, handler, http.MethodGet, "/api/documents?name=beta", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Documents, 1)
	assert.Equal(t, "beta.pdf", resp.Documents[0].Name)
}

func TestGetEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	handler := srv.Handler()

	uploadPDF(t, handler, "one.pdf", "document body")

	rec := doJSON(t, handler, http.MethodGet, "/api/documents/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var doc documentItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, 1, doc.ID)
	assert.Equal(t, "one.pdf", doc.Name)

	rec = doJSON(t, handler, http.MethodGet, "/api/documents/notanumber", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEndpoint_MissingDocument(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/documents/42", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "not found")
}

func TestDeleteEndpoint(t *testing.T) {
	srv, st := newTestServer(t, Config{})
	handler := srv.Handler()

	uploadPDF(t, handler, "gone.pdf", "to be removed")

	rec := doJSON(t, handler, http.MethodDelete, "/api/documents/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, st.docs)

	rec = doJSON(t, handler, http.MethodDelete, "/api/documents/1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyGate(t *testing.T) {
	srv, _ := newTestServer(t, Config{APIKey: "secret", RequireKey: true})
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/api/documents", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("X-API-Key", "wrong")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/documents", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open without a key.
	rec = doJSON(t, handler, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv, st := newTestServer(t, Config{Version: "1.2.3"})
	handler := srv.Handler()

	rec := doJSON(t, handler, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status     string            `json:"status"`
		Version    string            `json:"version"`
		Components map[string]string `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "healthy", resp.Components["database"])
	assert.Equal(t, "unknown", resp.Components["llm"])

	st.pingErr = fmt.Errorf("connection refused")
	rec = doJSON(t, handler, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "unhealthy", resp.Components["database"])
}
