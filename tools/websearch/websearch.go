package websearch

import (
	"context"
	"errors"

	"github.com/docqa-ai/docqa/config"
	"github.com/docqa-ai/docqa/internal/agent/core"
	"github.com/docqa-ai/docqa/tools/websearch/brave"
	"github.com/docqa-ai/docqa/tools/websearch/models"
	"github.com/docqa-ai/docqa/tools/websearch/serper"
)

// Discoverer is the provider-level search contract.
type Discoverer interface {
	Discover(ctx context.Context, q string, k int) (models.Response, error)
}

type Provider string

const (
	SerperProvider Provider = "serper"
	BraveProvider  Provider = "brave"
)

var ErrUnsupportedProvider = errors.New("unsupported web search provider")

// New builds a web searcher from configuration. A missing API key yields
// (nil, nil): the absent searcher is how "web unavailable" is represented,
// never an error.
func New(cfg config.WebSearchConfig) (core.WebSearcher, error) {
	if !cfg.Available() {
		return nil, nil
	}
	var d Discoverer
	switch Provider(cfg.Provider) {
	case SerperProvider:
		d = serper.Search{ApiKey: cfg.APIKey}
	case BraveProvider:
		d = brave.Search{ApiKey: cfg.APIKey}
	default:
		return nil, ErrUnsupportedProvider
	}
	max := cfg.MaxResults
	if max <= 0 {
		max = 3
	}
	return &searcher{discoverer: d, maxResults: max}, nil
}

// searcher adapts a Discoverer to the agent's WebSearcher contract.
type searcher struct {
	discoverer Discoverer
	maxResults int
}

func (s *searcher) SearchWithAnswer(ctx context.Context, query string) ([]core.ContextItem, string, error) {
	resp, err := s.discoverer.Discover(ctx, query, s.maxResults)
	if err != nil {
		return nil, "", err
	}
	items := make([]core.ContextItem, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Snippet == "" {
			continue
		}
		items = append(items, core.ContextItem{
			Content:    r.Snippet,
			SourceType: core.RouteWeb,
			Title:      r.Title,
			URL:        r.URL,
		})
	}
	return items, resp.Direct, nil
}
