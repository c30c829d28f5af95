package retrieval

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"github.com/docqa-ai/docqa/config"
	"github.com/docqa-ai/docqa/internal/store"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

type fakeSource struct {
	matches   []store.ChunkMatch
	chunks    []store.ChunkMatch
	searchErr error
	listErr   error
	listCalls int
}

func (f *fakeSource) SearchChunkEmbeddings(ctx context.Context, vector []float32, limit int) ([]store.ChunkMatch, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.matches) > limit {
		return f.matches[:limit], nil
	}
	return f.matches, nil
}

func (f *fakeSource) ListReadyChunks(ctx context.Context) ([]store.ChunkMatch, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.chunks, nil
}

func newHybrid(t *testing.T, embedder Embedder, source ChunkSource, staleness time.Duration) *Hybrid {
	t.Helper()
	h, err := NewHybrid(embedder, source, config.RetrievalConfig{LexicalStaleness: staleness},
		log.New(log.Writer(), "[TEST] ", 0))
	if err != nil {
		t.Fatalf("new hybrid: %v", err)
	}
	return h
}

func TestQueryFusesVectorAndLexical(t *testing.T) {
	chunks := []store.ChunkMatch{
		{ChunkID: "c1", DocumentID: "d1", Title: "VPN Guide", Content: "vpn access is requested through the portal"},
		{ChunkID: "c2", DocumentID: "d1", Title: "VPN Guide", Content: "expense reports are filed monthly"},
	}
	source := &fakeSource{
		chunks: chunks,
		matches: []store.ChunkMatch{
			{ChunkID: "c1", DocumentID: "d1", Title: "VPN Guide", Content: chunks[0].Content, Distance: 0.15},
			{ChunkID: "c2", DocumentID: "d1", Title: "VPN Guide", Content: chunks[1].Content, Distance: 0.6},
		},
	}
	h := newHybrid(t, &fakeEmbedder{vec: []float32{0.1, 0.2}}, source, time.Hour)

	items, err := h.Query(context.Background(), "vpn access", 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(items) == 0 {
		t.Fatalf("expected results")
	}
	// c1 appears at rank 1 in both legs; it must come out on top.
	if items[0].Content != chunks[0].Content {
		t.Fatalf("expected the doubly ranked chunk first, got %+v", items[0])
	}
	if got := items[0].RelevanceScore; got != 0.85 {
		t.Fatalf("expected relevance 1-distance = 0.85, got %v", got)
	}
	if items[0].DocumentID != "d1" || items[0].Title != "VPN Guide" {
		t.Fatalf("metadata not carried: %+v", items[0])
	}
}

func TestQueryRelevanceClamped(t *testing.T) {
	source := &fakeSource{
		matches: []store.ChunkMatch{{ChunkID: "c1", Content: "text", Distance: -0.2}},
	}
	h := newHybrid(t, &fakeEmbedder{vec: []float32{0.1}}, source, time.Hour)

	items, err := h.Query(context.Background(), "unrelated terms", 2)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(items) != 1 || items[0].RelevanceScore != 1 {
		t.Fatalf("expected clamped relevance 1, got %+v", items)
	}
}

func TestQueryEmbedFailureFallsBackToLexical(t *testing.T) {
	source := &fakeSource{
		chunks: []store.ChunkMatch{
			{ChunkID: "c1", DocumentID: "d1", Title: "Guide", Content: "vpn access steps"},
		},
	}
	h := newHybrid(t, &fakeEmbedder{err: errors.New("embeddings down")}, source, time.Hour)

	items, err := h.Query(context.Background(), "vpn", 2)
	if err != nil {
		t.Fatalf("lexical leg should carry the query: %v", err)
	}
	if len(items) != 1 || items[0].Content != "vpn access steps" {
		t.Fatalf("unexpected items: %+v", items)
	}
	// No vector leg means no similarity evidence.
	if items[0].RelevanceScore != 0 {
		t.Fatalf("lexical-only hits carry zero relevance, got %v", items[0].RelevanceScore)
	}
}

func TestQueryBothLegsFailing(t *testing.T) {
	source := &fakeSource{searchErr: errors.New("db down"), listErr: errors.New("db down")}
	h := newHybrid(t, &fakeEmbedder{vec: []float32{0.1}}, source, time.Hour)

	if _, err := h.Query(context.Background(), "q", 2); err == nil {
		t.Fatalf("expected error when both legs fail")
	}
}

func TestLexicalIndexRefreshedOnlyWhenStale(t *testing.T) {
	source := &fakeSource{chunks: []store.ChunkMatch{{ChunkID: "c1", Content: "vpn"}}}
	h := newHybrid(t, &fakeEmbedder{vec: []float32{0.1}}, source, time.Hour)

	for i := 0; i < 3; i++ {
		if _, err := h.Query(context.Background(), "vpn", 2); err != nil {
			t.Fatalf("query %d: %v", i, err)
		}
	}
	if source.listCalls != 1 {
		t.Fatalf("expected a single index build within staleness, got %d", source.listCalls)
	}

	h.Invalidate()
	if _, err := h.Query(context.Background(), "vpn", 2); err != nil {
		t.Fatalf("query after invalidate: %v", err)
	}
	if source.listCalls != 2 {
		t.Fatalf("expected rebuild after invalidate, got %d list calls", source.listCalls)
	}
}
