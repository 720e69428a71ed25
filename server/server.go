package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xhad/sift/internal/types"
	"github.com/xhad/sift/pkg/rag"
	"github.com/xhad/sift/pkg/store"
)

const maxUploadBytes = 64 << 20

type Config struct {
	Port       int
	APIKey     string
	RequireKey bool
	Version    string
}

// Server exposes the RAG pipeline over HTTP: chat, document management,
// health and a websocket chat stream.
type Server struct {
	config   Config
	service  *rag.Service
	store    types.VectorStore
	streamer Streamer
}

func New(config Config, service *rag.Service, vectorStore types.VectorStore) *Server {
	if config.Port == 0 {
		config.Port = 8000
	}
	if config.Version == "" {
		config.Version = "dev"
	}
	return &Server{
		config:  config,
		service: service,
		store:   vectorStore,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.requireKey(s.handleChat))
	mux.HandleFunc("POST /api/documents", s.requireKey(s.handleUpload))
	mux.HandleFunc("GET /api/documents", s.requireKey(s.handleList))
	mux.HandleFunc("GET /api/documents/{id}", s.requireKey(s.handleGet))
	mux.HandleFunc("DELETE /api/documents/{id}", s.requireKey(s.handleDelete))
	mux.HandleFunc("GET /ws", s.requireKey(s.handleWebSocket))
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

func (s *Server) Run() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	log.Printf("Starting server on %s", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// requireKey gates a handler behind the X-API-Key header when key
// checking is enabled by configuration.
func (s *Server) requireKey(next http.HandlerFunc) http.HandlerFunc {
	if !s.config.RequireKey {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != s.config.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next(w, r)
	}
}

type chatRequest struct {
	Query       string `json:"query"`
	DocumentIDs []int  `json:"document_ids,omitempty"`
	Debug       bool   `json:"debug,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	resp := s.service.Query(r.Context(), rag.QueryRequest{
		Query:       req.Query,
		DocumentIDs: req.DocumentIDs,
		Debug:       req.Debug,
	})

	writeJSON(w, http.StatusOK, resp)
}

type uploadResponse struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	FileType    string  `json:"file_type"`
	SizeKB      float64 `json:"size_kb"`
	ChunksCount int     `json:"chunks_count"`
	Processed   bool    `json:"processed"`
	Message     string  `json:"message"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	fileType := strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	result, err := s.service.IngestDocument(r.Context(), header.Filename, fileType, data, nil)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		ID:          result.DocumentID,
		Name:        result.Filename,
		FileType:    fileType,
		SizeKB:      result.SizeKB,
		ChunksCount: result.ChunksCount,
		Processed:   result.Processed,
		Message:     result.Message,
	})
}

type documentItem struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	FileType    string  `json:"file_type"`
	SizeKB      float64 `json:"size_kb"`
	ChunksCount int     `json:"chunks_count"`
	Processed   bool    `json:"processed"`
	UploadedAt  string  `json:"uploaded_at"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := types.ListOptions{
		Limit:      queryInt(q.Get("limit"), 50),
		Offset:     queryInt(q.Get("offset"), 0),
		SortBy:     q.Get("sort_by"),
		Order:      q.Get("order"),
		NameFilter: q.Get("name"),
	}

	docs, total, err := s.store.ListDocuments(r.Context(), opts)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	items := make([]documentItem, 0, len(docs))
	for _, d := range docs {
		items = append(items, documentItem{
			ID:          d.ID,
			Name:        d.Filename,
			FileType:    d.FileType,
			SizeKB:      d.SizeKB,
			ChunksCount: d.ChunksCount,
			Processed:   d.Processed,
			UploadedAt:  d.UploadedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"documents": items,
		"total":     total,
		"limit":     opts.Limit,
		"offset":    opts.Offset,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	doc, err := s.store.GetDocument(r.Context(), id)
	if err != nil {
		var valErr *store.ValidationError
		if errors.As(err, &valErr) {
			writeError(w, http.StatusNotFound, valErr.Message)
			return
		}
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, documentItem{
		ID:          doc.ID,
		Name:        doc.Filename,
		FileType:    doc.FileType,
		SizeKB:      doc.SizeKB,
		ChunksCount: doc.ChunksCount,
		Processed:   doc.Processed,
		UploadedAt:  doc.UploadedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid document id")
		return
	}

	if err := s.store.DeleteDocument(r.Context(), id); err != nil {
		var valErr *store.ValidationError
		if errors.As(err, &valErr) {
			writeError(w, http.StatusNotFound, valErr.Message)
			return
		}
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("document %d deleted", id),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := s.service.Health(r.Context())

	status := http.StatusOK
	overall := "healthy"
	for _, c := range components {
		if c == rag.StatusUnhealthy {
			status = http.StatusServiceUnavailable
			overall = "unhealthy"
			break
		}
	}

	payload := map[string]interface{}{
		"status":     overall,
		"version":    s.config.Version,
		"components": components,
	}
	if stats, ok := s.service.EmbedderStats(); ok {
		payload["embedding_cache"] = stats
	}

	writeJSON(w, status, payload)
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("server: error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps storage failures onto HTTP statuses: shape
// problems are the client's fault, connectivity is ours.
func writeStoreError(w http.ResponseWriter, err error) {
	var valErr *store.ValidationError
	if errors.As(err, &valErr) {
		writeError(w, http.StatusBadRequest, valErr.Message)
		return
	}
	var unavailErr *store.StoreUnavailableError
	if errors.As(err, &unavailErr) {
		log.Printf("server: store unavailable: %v", err)
		writeError(w, http.StatusServiceUnavailable, "vector store unavailable")
		return
	}
	log.Printf("server: internal error: %v", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
