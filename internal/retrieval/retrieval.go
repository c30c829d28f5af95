package retrieval

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/blevesearch/bleve"

	"github.com/docqa-ai/docqa/config"
	"github.com/docqa-ai/docqa/internal/agent/core"
	"github.com/docqa-ai/docqa/internal/store"
)

const rrfK = 60 // reciprocal-rank-fusion constant

// Embedder turns texts into vectors.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkSource is the store surface the retriever needs.
type ChunkSource interface {
	SearchChunkEmbeddings(ctx context.Context, vector []float32, limit int) ([]store.ChunkMatch, error)
	ListReadyChunks(ctx context.Context) ([]store.ChunkMatch, error)
}

// chunkDoc is the shape indexed into bleve.
type chunkDoc struct {
	Content string `json:"content"`
	Title   string `json:"title"`
}

type searchHit struct {
	id   string
	rank int
	item store.ChunkMatch
}

// Hybrid retrieves document chunks by fusing pgvector similarity search with
// an in-memory BM25 index. The lexical index is rebuilt lazily from the
// store once it goes stale.
type Hybrid struct {
	embedder  Embedder
	source    ChunkSource
	staleness time.Duration
	logger    *log.Logger

	mu          sync.RWMutex
	index       bleve.Index
	meta        map[string]store.ChunkMatch
	refreshedAt time.Time
}

// NewHybrid builds the retriever with an empty lexical index; the first
// query populates it.
func NewHybrid(embedder Embedder, source ChunkSource, cfg config.RetrievalConfig, logger *log.Logger) (*Hybrid, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags)
	}
	staleness := cfg.LexicalStaleness
	if staleness <= 0 {
		staleness = 5 * time.Minute
	}
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create lexical index: %w", err)
	}
	return &Hybrid{
		embedder:  embedder,
		source:    source,
		staleness: staleness,
		logger:    logger,
		index:     index,
		meta:      map[string]store.ChunkMatch{},
	}, nil
}

// Query implements the agent's Retriever contract. Either leg may fail on
// its own; only both failing is an error.
func (h *Hybrid) Query(ctx context.Context, text string, k int) ([]core.ContextItem, error) {
	if k <= 0 {
		k = 4
	}

	vecHits, similarities, vecErr := h.vectorSearch(ctx, text, k)
	if vecErr != nil {
		h.logger.Printf("vector search failed: %v", vecErr)
	}
	lexHits, lexErr := h.lexicalSearch(ctx, text, k)
	if lexErr != nil {
		h.logger.Printf("lexical search failed: %v", lexErr)
	}
	if vecErr != nil && lexErr != nil {
		return nil, fmt.Errorf("retrieval failed: vector: %v; lexical: %v", vecErr, lexErr)
	}

	fused := fuseRRF(vecHits, lexHits, k)
	items := make([]core.ContextItem, 0, len(fused))
	for _, hit := range fused {
		items = append(items, core.ContextItem{
			Content:        hit.item.Content,
			SourceType:     core.RouteDocuments,
			Title:          hit.item.Title,
			DocumentID:     hit.item.DocumentID,
			RelevanceScore: similarities[hit.id],
		})
	}
	return items, nil
}

// Invalidate forces a lexical rebuild on the next query, used after
// ingestion completes.
func (h *Hybrid) Invalidate() {
	h.mu.Lock()
	h.refreshedAt = time.Time{}
	h.mu.Unlock()
}

func (h *Hybrid) vectorSearch(ctx context.Context, text string, k int) ([]searchHit, map[string]float64, error) {
	vecs, err := h.embedder.CreateEmbedding(ctx, []string{text})
	if err != nil {
		return nil, nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, nil, fmt.Errorf("embedder returned no vectors")
	}
	matches, err := h.source.SearchChunkEmbeddings(ctx, vecs[0], k)
	if err != nil {
		return nil, nil, err
	}
	hits := make([]searchHit, 0, len(matches))
	similarities := make(map[string]float64, len(matches))
	for i, m := range matches {
		hits = append(hits, searchHit{id: m.ChunkID, rank: i + 1, item: m})
		// Cosine distance to similarity, clamped into [0,1].
		similarities[m.ChunkID] = clamp01(1 - m.Distance)
	}
	return hits, similarities, nil
}

func (h *Hybrid) lexicalSearch(ctx context.Context, text string, k int) ([]searchHit, error) {
	if err := h.refreshLexical(ctx); err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	query := bleve.NewQueryStringQuery(text)
	searchReq := bleve.NewSearchRequestOptions(query, k*3, 0, false)
	res, err := h.index.SearchInContext(ctx, searchReq)
	if err != nil {
		return nil, err
	}
	var out []searchHit
	for i, hit := range res.Hits {
		item, ok := h.meta[hit.ID]
		if !ok {
			continue
		}
		out = append(out, searchHit{id: hit.ID, rank: i + 1, item: item})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

// refreshLexical rebuilds the in-memory index from the store when stale.
// The rebuild happens off to the side; readers keep the old index until the
// swap.
func (h *Hybrid) refreshLexical(ctx context.Context) error {
	h.mu.RLock()
	fresh := time.Since(h.refreshedAt) < h.staleness
	h.mu.RUnlock()
	if fresh {
		return nil
	}

	chunks, err := h.source.ListReadyChunks(ctx)
	if err != nil {
		return fmt.Errorf("list chunks: %w", err)
	}
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return err
	}
	meta := make(map[string]store.ChunkMatch, len(chunks))
	for _, c := range chunks {
		if err := index.Index(c.ChunkID, chunkDoc{Content: c.Content, Title: c.Title}); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ChunkID, err)
		}
		meta[c.ChunkID] = c
	}

	h.mu.Lock()
	old := h.index
	h.index = index
	h.meta = meta
	h.refreshedAt = time.Now()
	h.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func fuseRRF(a, b []searchHit, k int) []searchHit {
	type agg struct {
		item  searchHit
		score float64
	}
	m := map[string]*agg{}
	add := func(list []searchHit) {
		for _, h := range list {
			x, ok := m[h.id]
			if !ok {
				m[h.id] = &agg{item: h}
				x = m[h.id]
			}
			x.score += 1.0 / float64(rrfK+h.rank)
		}
	}
	add(a)
	add(b)

	fused := make([]*agg, 0, len(m))
	for _, v := range m {
		fused = append(fused, v)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].item.id < fused[j].item.id
	})
	if len(fused) > k {
		fused = fused[:k]
	}
	out := make([]searchHit, 0, len(fused))
	for i, v := range fused {
		hit := v.item
		hit.rank = i + 1
		out = append(out, hit)
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
