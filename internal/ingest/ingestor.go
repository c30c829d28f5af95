package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/docqa-ai/docqa/config"
	"github.com/docqa-ai/docqa/internal/store"
)

// Embedder turns chunk texts into vectors.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentStore is the store surface ingestion needs.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (store.Document, error)
	GetDocumentContent(ctx context.Context, id string) (string, error)
	ReplaceChunks(ctx context.Context, documentID string, chunks []store.ChunkInput) error
	SetDocumentStatus(ctx context.Context, id, status, errMsg string) error
}

// Invalidator is notified when the searchable corpus changed.
type Invalidator interface {
	Invalidate()
}

// Ingestor turns a registered document into searchable chunks: fetch or
// load the text, split, embed, store. One Process call handles one
// document end to end and records the outcome on the document row.
type Ingestor struct {
	store       DocumentStore
	embedder    Embedder
	splitter    Splitter
	invalidator Invalidator
	httpClient  *http.Client
	logger      *log.Logger
}

func NewIngestor(st DocumentStore, embedder Embedder, cfg config.IngestConfig, invalidator Invalidator, logger *log.Logger) *Ingestor {
	if logger == nil {
		logger = log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
	}
	return &Ingestor{
		store:       st,
		embedder:    embedder,
		splitter:    NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		invalidator: invalidator,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		logger:      logger,
	}
}

// Process ingests one document. Failures are recorded on the document row
// and returned; success flips the document to ready.
func (in *Ingestor) Process(ctx context.Context, documentID string) error {
	doc, err := in.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("load document %s: %w", documentID, err)
	}

	text, err := in.resolveText(ctx, doc)
	if err != nil {
		in.fail(ctx, documentID, err)
		return err
	}

	chunks := in.splitter.Split(text)
	if len(chunks) == 0 {
		err := fmt.Errorf("document %s has no extractable text", documentID)
		in.fail(ctx, documentID, err)
		return err
	}

	vectors, err := in.embedder.CreateEmbedding(ctx, chunks)
	if err != nil {
		in.fail(ctx, documentID, fmt.Errorf("embed chunks: %w", err))
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		err := fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
		in.fail(ctx, documentID, err)
		return err
	}

	inputs := make([]store.ChunkInput, 0, len(chunks))
	for i, content := range chunks {
		inputs = append(inputs, store.ChunkInput{Ord: i, Content: content, Embedding: vectors[i]})
	}
	if err := in.store.ReplaceChunks(ctx, documentID, inputs); err != nil {
		in.fail(ctx, documentID, fmt.Errorf("store chunks: %w", err))
		return fmt.Errorf("store chunks: %w", err)
	}

	if err := in.store.SetDocumentStatus(ctx, documentID, store.StatusReady, ""); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	if in.invalidator != nil {
		in.invalidator.Invalidate()
	}
	in.logger.Printf("document %s ingested: %d chunk(s)", documentID, len(chunks))
	return nil
}

// resolveText prefers stored raw content; otherwise the source URL is
// fetched and HTML is boiled down to article text.
func (in *Ingestor) resolveText(ctx context.Context, doc store.Document) (string, error) {
	content, err := in.store.GetDocumentContent(ctx, doc.ID)
	if err != nil {
		return "", fmt.Errorf("load content: %w", err)
	}
	if strings.TrimSpace(content) != "" {
		return content, nil
	}
	if doc.Source == "" {
		return "", fmt.Errorf("document has neither content nor source")
	}
	return in.fetchSource(ctx, doc.Source)
}

func (in *Ingestor) fetchSource(ctx context.Context, source string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", source, nil)
	if err != nil {
		return "", fmt.Errorf("build fetch request: %w", err)
	}
	resp, err := in.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch source: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch source: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		parsed, err := url.Parse(source)
		if err != nil {
			return "", fmt.Errorf("parse source url: %w", err)
		}
		article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
		if err != nil {
			return "", fmt.Errorf("extract article: %w", err)
		}
		return strings.TrimSpace(article.TextContent), nil
	}
	return string(body), nil
}

func (in *Ingestor) fail(ctx context.Context, documentID string, cause error) {
	in.logger.Printf("ingest %s failed: %v", documentID, cause)
	if err := in.store.SetDocumentStatus(ctx, documentID, store.StatusFailed, cause.Error()); err != nil {
		in.logger.Printf("mark failed %s: %v", documentID, err)
	}
}
