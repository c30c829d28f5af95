package core

import (
	"context"
	"log"
	"strings"

	"github.com/docqa-ai/docqa/config"
	"github.com/docqa-ai/docqa/internal/memory"
)

// Router decides whether a question is answered from internal documents or
// from the web. Given identical inputs it always produces the same decision;
// the only external signal is a best-effort relevance probe against the
// retriever, whose failure is quietly treated as "no match".
type Router struct {
	retriever    Retriever
	webAvailable bool
	cfg          config.RoutingConfig
	logger       *log.Logger
}

// NewRouter builds a router. webAvailable is fixed at construction time: a
// missing web-search API key is a permanent routing constraint for the life
// of the process, not something re-checked per call.
func NewRouter(retriever Retriever, webAvailable bool, cfg config.RoutingConfig, logger *log.Logger) *Router {
	if cfg.RelevanceThreshold == 0 {
		cfg.RelevanceThreshold = 0.7
	}
	if cfg.WebConfidence == 0 {
		cfg.WebConfidence = 0.8
	}
	if cfg.UnavailableBoost == 0 {
		cfg.UnavailableBoost = 0.3
	}
	if cfg.ContinuityWindow == 0 {
		cfg.ContinuityWindow = 4
	}
	if cfg.ProbeTopK == 0 {
		cfg.ProbeTopK = 2
	}
	if len(cfg.WebKeywords) == 0 {
		cfg.WebKeywords = []string{"web", "latest", "news", "today", "current", "recent", "update"}
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[ROUTER] ", log.LstdFlags)
	}
	return &Router{retriever: retriever, webAvailable: webAvailable, cfg: cfg, logger: logger}
}

// Decide routes a question. history is the stored conversation excluding the
// current question.
func (r *Router) Decide(ctx context.Context, question string, history []memory.Message) RouteDecision {
	relevance := r.probeRelevance(ctx, question)

	if !r.webAvailable {
		return RouteDecision{
			Route:      RouteDocuments,
			Reason:     "web search unavailable; using local knowledge base",
			Confidence: clamp01(relevance + r.cfg.UnavailableBoost),
		}
	}

	if r.prefersWeb(question) {
		return RouteDecision{
			Route:      RouteWeb,
			Reason:     "detected recency/web intent",
			Confidence: r.cfg.WebConfidence,
		}
	}

	if relevance > r.cfg.RelevanceThreshold {
		return RouteDecision{
			Route:      RouteDocuments,
			Reason:     "found relevant internal documents",
			Confidence: clamp01(relevance),
		}
	}

	if r.recentWebTurn(history) {
		return RouteDecision{
			Route:      RouteWeb,
			Reason:     "maintaining prior turn web context",
			Confidence: r.cfg.WebConfidence,
		}
	}

	return RouteDecision{
		Route:      RouteDocuments,
		Reason:     "using internal knowledge base as primary source",
		Confidence: clamp01(relevance),
	}
}

// probeRelevance measures how well internal documents match the question,
// taking the best relevance score of a small top-k query. Any failure
// yields 0.
func (r *Router) probeRelevance(ctx context.Context, question string) float64 {
	if r.retriever == nil {
		return 0
	}
	items, err := r.retriever.Query(ctx, question, r.cfg.ProbeTopK)
	if err != nil {
		r.logger.Printf("relevance probe failed: %v", err)
		return 0
	}
	best := 0.0
	for _, item := range items {
		if item.RelevanceScore > best {
			best = item.RelevanceScore
		}
	}
	return best
}

func (r *Router) prefersWeb(question string) bool {
	lowered := strings.ToLower(question)
	for _, keyword := range r.cfg.WebKeywords {
		if strings.Contains(lowered, keyword) {
			return true
		}
	}
	return strings.Contains(lowered, "http")
}

// recentWebTurn checks the newest messages for an assistant reply tagged
// with the web route, keeping conversational stickiness toward web search.
func (r *Router) recentWebTurn(history []memory.Message) bool {
	start := len(history) - r.cfg.ContinuityWindow
	if start < 0 {
		start = 0
	}
	for _, msg := range history[start:] {
		if msg.Role == memory.RoleAssistant && msg.Route == string(RouteWeb) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
