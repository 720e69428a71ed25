package models

import "time"

// Document is an uploaded source file. The binary content lives in the
// store; it is only loaded back for reindexing.
type Document struct {
	ID          int
	Filename    string
	FileType    string
	Content     []byte
	SizeKB      float64
	ChunksCount int
	Processed   bool
	UploadedAt  time.Time
	Metadata    map[string]interface{}
}

// Chunk is a bounded text segment of a document, the unit of embedding
// and retrieval.
type Chunk struct {
	ID         int
	DocumentID int
	Text       string
	Embedding  []float32
	Page       int
	Position   int
	Metadata   map[string]interface{}
}

// Page is one page of extracted text.
type Page struct {
	Number int
	Text   string
}

// SearchResult pairs a chunk with its similarity score and the name of
// the file it came from.
type SearchResult struct {
	Chunk      Chunk
	Score      float64
	SourceFile string
}

// DebugInfo exposes the retrieval internals of a single query.
type DebugInfo struct {
	Query      string    `json:"query"`
	CleanQuery string    `json:"clean_query"`
	NumResults int       `json:"num_results"`
	Sources    []string  `json:"sources"`
	Scores     []float64 `json:"scores"`
}

// ChatResponse is the answer to a query, with timing and optional
// retrieval debug information.
type ChatResponse struct {
	Response       string     `json:"response"`
	ProcessingTime float64    `json:"processing_time"`
	DebugInfo      *DebugInfo `json:"debug_info,omitempty"`
}

// IngestResult summarizes one document ingestion.
type IngestResult struct {
	DocumentID  int
	Filename    string
	SizeKB      float64
	ChunksCount int
	Processed   bool
	Message     string
}
