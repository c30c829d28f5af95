package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/docqa-ai/docqa/config"
)

// Document ingestion states. A document is searchable only once ready.
const (
	StatusPending = "pending"
	StatusReady   = "ready"
	StatusFailed  = "failed"
)

// Store wraps the Postgres document store. Chunk embeddings live in a
// pgvector column.
type Store struct {
	DB *sql.DB
}

// New opens and pings a connection from configuration.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// NewWithDB wraps an existing connection, mainly for tests.
func NewWithDB(db *sql.DB) *Store { return &Store{DB: db} }

func (s *Store) Close() error { return s.DB.Close() }

type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChunkInput is one chunk ready for insertion.
type ChunkInput struct {
	Ord       int
	Content   string
	Embedding []float32
}

// ChunkMatch is one chunk row, optionally carrying a vector distance from a
// similarity search.
type ChunkMatch struct {
	ChunkID    string
	DocumentID string
	Title      string
	Content    string
	Distance   float64
}

// CreateDocument registers a document in pending state. Raw content may be
// empty when the source URL is fetched later by the worker.
func (s *Store) CreateDocument(ctx context.Context, title, source, content string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `
INSERT INTO documents (title, source, content, status) VALUES ($1,$2,$3,$4) RETURNING id`,
		title, source, content, StatusPending).Scan(&id)
	return id, err
}

func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	var d Document
	err := s.DB.QueryRowContext(ctx, `
SELECT id, title, source, status, error, created_at, updated_at FROM documents WHERE id=$1`, id).
		Scan(&d.ID, &d.Title, &d.Source, &d.Status, &d.Error, &d.CreatedAt, &d.UpdatedAt)
	return d, err
}

// GetDocumentContent returns the stored raw content for ingestion.
func (s *Store) GetDocumentContent(ctx context.Context, id string) (string, error) {
	var content string
	err := s.DB.QueryRowContext(ctx, `SELECT content FROM documents WHERE id=$1`, id).Scan(&content)
	return content, err
}

func (s *Store) ListDocuments(ctx context.Context, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, title, source, status, error, created_at, updated_at
FROM documents ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Source, &d.Status, &d.Error, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) SetDocumentStatus(ctx context.Context, id, status, errMsg string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE documents SET status=$2, error=$3, updated_at=NOW() WHERE id=$1`, id, status, errMsg)
	return err
}

// ListStalePending returns ids of documents stuck in pending longer than the
// deadline, for the retry janitor.
func (s *Store) ListStalePending(ctx context.Context, deadline time.Duration) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id FROM documents WHERE status=$1 AND updated_at < NOW() - $2::interval`,
		StatusPending, fmt.Sprintf("%d seconds", int64(deadline/time.Second)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ReplaceChunks deletes any existing chunks for the document and inserts the
// new set in a single transaction, so re-ingestion never duplicates.
func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []ChunkInput) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id=$1`, documentID); err != nil {
		return err
	}
	for _, c := range chunks {
		vectorLiteral, err := encodeVectorLiteral(c.Embedding)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", c.Ord, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO chunks (document_id, ord, content, embedding) VALUES ($1,$2,$3,$4::vector)`,
			documentID, c.Ord, c.Content, vectorLiteral); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SearchChunkEmbeddings returns the closest ready chunks by cosine distance.
func (s *Store) SearchChunkEmbeddings(ctx context.Context, vector []float32, limit int) ([]ChunkMatch, error) {
	vecLiteral, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 4
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.id, c.document_id, d.title, c.content, c.embedding <=> $1::vector AS distance
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE d.status = $2
ORDER BY c.embedding <=> $1::vector
LIMIT $3`, vecLiteral, StatusReady, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkMatch
	for rows.Next() {
		var m ChunkMatch
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.Title, &m.Content, &m.Distance); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListReadyChunks returns every searchable chunk, used to build the lexical
// index.
func (s *Store) ListReadyChunks(ctx context.Context) ([]ChunkMatch, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT c.id, c.document_id, d.title, c.content
FROM chunks c
JOIN documents d ON d.id = c.document_id
WHERE d.status = $1
ORDER BY c.document_id, c.ord`, StatusReady)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChunkMatch
	for rows.Next() {
		var m ChunkMatch
		if err := rows.Scan(&m.ChunkID, &m.DocumentID, &m.Title, &m.Content); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
