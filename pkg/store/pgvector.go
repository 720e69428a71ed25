package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/xhad/sift/internal/models"
	"github.com/xhad/sift/internal/types"
)

type VectorStoreConfig struct {
	ConnString     string
	DocumentsTable string
	ChunksTable    string
	VectorDim      int
	BatchSize      int
}

// VectorStore persists documents and their chunk vectors in Postgres
// with the pgvector extension. Chunks cascade-delete with their
// document. Callers running a full reindex (ReplaceCollection followed
// by AddChunks) must hold their own exclusive lock so searches never
// observe a half-populated collection.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
}

var _ types.VectorStore = (*VectorStore)(nil)

func NewWithConfig(config VectorStoreConfig) (*VectorStore, error) {
	if config.DocumentsTable == "" {
		config.DocumentsTable = "documents"
	}
	if config.ChunksTable == "" {
		config.ChunksTable = "chunks"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "connect", Err: err}
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize() error {
	ctx := context.Background()

	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return &StoreUnavailableError{Op: "create extension", Err: err}
	}

	createDocuments := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			filename TEXT NOT NULL,
			file_type TEXT NOT NULL,
			content BYTEA NOT NULL,
			size_kb DOUBLE PRECISION NOT NULL DEFAULT 0,
			chunks_count INTEGER NOT NULL DEFAULT 0,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			uploaded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			metadata JSONB
		)`, vs.config.DocumentsTable)

	if _, err := vs.pool.Exec(ctx, createDocuments); err != nil {
		return &StoreUnavailableError{Op: "create documents table", Err: err}
	}

	return vs.createChunksTable(ctx)
}

func (vs *VectorStore) createChunksTable(ctx context.Context) error {
	createChunks := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			document_id INTEGER REFERENCES %s(id) ON DELETE CASCADE,
			text TEXT NOT NULL,
			embedding vector(%d),
			page INTEGER,
			position INTEGER,
			metadata JSONB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, vs.config.ChunksTable, vs.config.DocumentsTable, vs.config.VectorDim)

	if _, err := vs.pool.Exec(ctx, createChunks); err != nil {
		return &StoreUnavailableError{Op: "create chunks table", Err: err}
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.ChunksTable, vs.config.ChunksTable)

	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return &StoreUnavailableError{Op: "create index", Err: err}
	}

	return nil
}

// ReplaceCollection drops and recreates the chunk collection. This is
// the destructive full-reset used by the reindex job; the document
// records survive so their binary content can be reprocessed.
func (vs *VectorStore) ReplaceCollection(ctx context.Context) error {
	drop := fmt.Sprintf("DROP TABLE IF EXISTS %s", vs.config.ChunksTable)
	if _, err := vs.pool.Exec(ctx, drop); err != nil {
		return &StoreUnavailableError{Op: "drop chunks table", Err: err}
	}

	if err := vs.createChunksTable(ctx); err != nil {
		return err
	}

	reset := fmt.Sprintf("UPDATE %s SET processed = FALSE, chunks_count = 0", vs.config.DocumentsTable)
	if _, err := vs.pool.Exec(ctx, reset); err != nil {
		return &StoreUnavailableError{Op: "reset document state", Err: err}
	}

	return nil
}

// CreateDocument inserts the document record and fills in its ID and
// upload timestamp.
func (vs *VectorStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (filename, file_type, content, size_kb, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, uploaded_at`, vs.config.DocumentsTable)

	err := vs.pool.QueryRow(ctx, query,
		sanitizeUTF8(doc.Filename),
		doc.FileType,
		doc.Content,
		doc.SizeKB,
		doc.Metadata,
	).Scan(&doc.ID, &doc.UploadedAt)
	if err != nil {
		return &StoreUnavailableError{Op: "create document", Err: err}
	}

	return nil
}

// GetDocument loads a document record including its binary content.
func (vs *VectorStore) GetDocument(ctx context.Context, id int) (*models.Document, error) {
	query := fmt.Sprintf(`
		SELECT id, filename, file_type, content, size_kb, chunks_count, processed, uploaded_at, metadata
		FROM %s WHERE id = $1`, vs.config.DocumentsTable)

	var doc models.Document
	err := vs.pool.QueryRow(ctx, query, id).Scan(
		&doc.ID,
		&doc.Filename,
		&doc.FileType,
		&doc.Content,
		&doc.SizeKB,
		&doc.ChunksCount,
		&doc.Processed,
		&doc.UploadedAt,
		&doc.Metadata,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &ValidationError{Message: fmt.Sprintf("document %d not found", id)}
	}
	if err != nil {
		return nil, &StoreUnavailableError{Op: "get document", Err: err}
	}

	return &doc, nil
}

var sortColumns = map[string]string{
	"id":          "id",
	"filename":    "filename",
	"uploaded_at": "uploaded_at",
	"size_kb":     "size_kb",
}

// ListDocuments returns a page of document records (without binary
// content) and the total count matching the filter.
func (vs *VectorStore) ListDocuments(ctx context.Context, opts types.ListOptions) ([]models.Document, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	sortBy, ok := sortColumns[opts.SortBy]
	if !ok {
		sortBy = "id"
	}
	order := "ASC"
	if strings.EqualFold(opts.Order, "desc") {
		order = "DESC"
	}

	where := ""
	args := []interface{}{}
	if opts.NameFilter != "" {
		where = "WHERE filename ILIKE $1"
		args = append(args, "%"+opts.NameFilter+"%")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s %s", vs.config.DocumentsTable, where)
	var total int
	if err := vs.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, &StoreUnavailableError{Op: "count documents", Err: err}
	}

	listQuery := fmt.Sprintf(`
		SELECT id, filename, file_type, size_kb, chunks_count, processed, uploaded_at, metadata
		FROM %s %s
		ORDER BY %s %s
		LIMIT $%d OFFSET $%d`,
		vs.config.DocumentsTable, where, sortBy, order, len(args)+1, len(args)+2)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := vs.pool.Query(ctx, listQuery, args...)
	if err != nil {
		return nil, 0, &StoreUnavailableError{Op: "list documents", Err: err}
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var doc models.Document
		err := rows.Scan(
			&doc.ID,
			&doc.Filename,
			&doc.FileType,
			&doc.SizeKB,
			&doc.ChunksCount,
			&doc.Processed,
			&doc.UploadedAt,
			&doc.Metadata,
		)
		if err != nil {
			return nil, 0, &StoreUnavailableError{Op: "scan document", Err: err}
		}
		docs = append(docs, doc)
	}

	return docs, total, nil
}

// DeleteDocument removes a document and, through the foreign key
// cascade, every chunk it owns.
func (vs *VectorStore) DeleteDocument(ctx context.Context, id int) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", vs.config.DocumentsTable)
	tag, err := vs.pool.Exec(ctx, query, id)
	if err != nil {
		return &StoreUnavailableError{Op: "delete document", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return &ValidationError{Message: fmt.Sprintf("document %d not found", id)}
	}
	return nil
}

// MarkProcessed records the ingestion outcome on the document row. A
// document with zero chunks stays processed=false so an empty
// extraction is distinguishable from a populated one.
func (vs *VectorStore) MarkProcessed(ctx context.Context, id int, chunksCount int, processed bool) error {
	query := fmt.Sprintf(`
		UPDATE %s SET chunks_count = $2, processed = $3 WHERE id = $1`,
		vs.config.DocumentsTable)

	if _, err := vs.pool.Exec(ctx, query, id, chunksCount, processed); err != nil {
		return &StoreUnavailableError{Op: "mark processed", Err: err}
	}
	return nil
}

// AddChunks inserts the chunk rows and their vectors in one
// transaction. The chunk and vector slices are parallel; a length
// mismatch or a wrong vector dimension fails the whole call before
// anything is written.
func (vs *VectorStore) AddChunks(ctx context.Context, docID int, chunks []models.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return &ValidationError{
			Message: fmt.Sprintf("%d chunks but %d vectors", len(chunks), len(vectors)),
		}
	}
	for i, vec := range vectors {
		if len(vec) != vs.config.VectorDim {
			return &ValidationError{
				Message: fmt.Sprintf("vector %d has dimension %d, expected %d", i, len(vec), vs.config.VectorDim),
			}
		}
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return &StoreUnavailableError{Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (document_id, text, embedding, page, position, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`, vs.config.ChunksTable)

	for i, chunk := range chunks {
		_, err := tx.Exec(ctx, stmt,
			docID,
			sanitizeUTF8(chunk.Text),
			pgvector.NewVector(vectors[i]),
			chunk.Page,
			chunk.Position,
			chunk.Metadata,
		)
		if err != nil {
			return &StoreUnavailableError{Op: "insert chunk", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &StoreUnavailableError{Op: "commit", Err: err}
	}

	return nil
}

// Search returns the k nearest chunks by cosine distance, best first.
// Equal scores break by chunk id ascending, which is insertion order,
// so a fixed input set always produces the same ranking. A k larger
// than the collection returns everything; an empty collection returns
// an empty result.
func (vs *VectorStore) Search(ctx context.Context, vector []float32, k int, docFilter []int) ([]models.SearchResult, error) {
	if len(vector) != vs.config.VectorDim {
		return nil, &ValidationError{
			Message: fmt.Sprintf("query vector has dimension %d, expected %d", len(vector), vs.config.VectorDim),
		}
	}
	if k <= 0 {
		k = 5
	}

	filterClause := ""
	args := []interface{}{pgvector.NewVector(vector)}
	if len(docFilter) > 0 {
		filterClause = "WHERE c.document_id = ANY($2)"
		args = append(args, docFilter)
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.document_id, c.text, c.page, c.position, c.metadata,
		       1 - (c.embedding <=> $1) AS score,
		       d.filename
		FROM %s c
		JOIN %s d ON d.id = c.document_id
		%s
		ORDER BY c.embedding <=> $1, c.id
		LIMIT $%d`,
		vs.config.ChunksTable, vs.config.DocumentsTable, filterClause, len(args)+1)
	args = append(args, k)

	rows, err := vs.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &StoreUnavailableError{Op: "search", Err: err}
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		var r models.SearchResult
		err := rows.Scan(
			&r.Chunk.ID,
			&r.Chunk.DocumentID,
			&r.Chunk.Text,
			&r.Chunk.Page,
			&r.Chunk.Position,
			&r.Chunk.Metadata,
			&r.Score,
			&r.SourceFile,
		)
		if err != nil {
			return nil, &StoreUnavailableError{Op: "scan result", Err: err}
		}
		results = append(results, r)
	}

	return results, nil
}

// Ping reports store connectivity for health checks.
func (vs *VectorStore) Ping(ctx context.Context) error {
	if err := vs.pool.Ping(ctx); err != nil {
		return &StoreUnavailableError{Op: "ping", Err: err}
	}
	return nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
