package core

import (
	"context"
	"errors"
	"log"
	"testing"

	"github.com/docqa-ai/docqa/config"
	"github.com/docqa-ai/docqa/internal/memory"
)

type stubRetriever struct {
	items []ContextItem
	err   error
	calls int
}

func (s *stubRetriever) Query(ctx context.Context, text string, k int) ([]ContextItem, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.items, nil
}

func scored(scores ...float64) []ContextItem {
	items := make([]ContextItem, 0, len(scores))
	for _, s := range scores {
		items = append(items, ContextItem{Content: "chunk", SourceType: RouteDocuments, RelevanceScore: s})
	}
	return items
}

func newTestRouter(retriever Retriever, webAvailable bool) *Router {
	return NewRouter(retriever, webAvailable, config.RoutingConfig{}, log.New(log.Writer(), "[TEST] ", 0))
}

func TestRouterRecencyKeywordGoesWeb(t *testing.T) {
	r := newTestRouter(&stubRetriever{items: scored(0.9)}, true)
	d := r.Decide(context.Background(), "What is the latest quarterly revenue?", nil)
	if d.Route != RouteWeb {
		t.Fatalf("expected web route, got %s (%s)", d.Route, d.Reason)
	}
	if d.Reason != "detected recency/web intent" {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
	if d.Confidence != 0.8 {
		t.Fatalf("expected web confidence 0.8, got %v", d.Confidence)
	}
}

func TestRouterURLMentionGoesWeb(t *testing.T) {
	r := newTestRouter(&stubRetriever{}, true)
	d := r.Decide(context.Background(), "summarize https://example.com/report please", nil)
	if d.Route != RouteWeb {
		t.Fatalf("expected web route for URL mention, got %s", d.Route)
	}
}

func TestRouterWebUnavailableAlwaysDocuments(t *testing.T) {
	r := newTestRouter(&stubRetriever{items: scored(0.5)}, false)
	d := r.Decide(context.Background(), "what is the latest news on the web today", nil)
	if d.Route != RouteDocuments {
		t.Fatalf("expected documents when web unavailable, got %s", d.Route)
	}
	if d.Reason != "web search unavailable; using local knowledge base" {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
	// 0.5 relevance + 0.3 boost.
	if d.Confidence != 0.8 {
		t.Fatalf("expected boosted confidence 0.8, got %v", d.Confidence)
	}
}

func TestRouterUnavailableBoostClamped(t *testing.T) {
	r := newTestRouter(&stubRetriever{items: scored(0.9)}, false)
	d := r.Decide(context.Background(), "latest update", nil)
	if d.Confidence != 1.0 {
		t.Fatalf("expected confidence clamped to 1.0, got %v", d.Confidence)
	}
}

func TestRouterHighRelevanceGoesDocuments(t *testing.T) {
	r := newTestRouter(&stubRetriever{items: scored(0.3, 0.82, 0.6)}, true)
	d := r.Decide(context.Background(), "what does the onboarding guide say about VPN access?", nil)
	if d.Route != RouteDocuments {
		t.Fatalf("expected documents route, got %s", d.Route)
	}
	if d.Reason != "found relevant internal documents" {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
	if d.Confidence != 0.82 {
		t.Fatalf("expected confidence to be the best probe score, got %v", d.Confidence)
	}
}

func TestRouterThresholdIsExclusive(t *testing.T) {
	r := newTestRouter(&stubRetriever{items: scored(0.7)}, true)
	d := r.Decide(context.Background(), "what does the handbook say?", nil)
	if d.Reason != "using internal knowledge base as primary source" {
		t.Fatalf("relevance exactly at threshold must not count as a match: %q", d.Reason)
	}
}

func TestRouterContinuityFollowsPriorWebTurn(t *testing.T) {
	r := newTestRouter(&stubRetriever{items: scored(0.2)}, true)
	history := []memory.Message{
		{Role: memory.RoleHuman, Content: "who won the match?"},
		{Role: memory.RoleAssistant, Content: "Team A won.", Route: "web"},
	}
	d := r.Decide(context.Background(), "and who scored?", history)
	if d.Route != RouteWeb {
		t.Fatalf("expected continuity to keep web route, got %s (%s)", d.Route, d.Reason)
	}
	if d.Reason != "maintaining prior turn web context" {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
}

func TestRouterContinuityWindowBounded(t *testing.T) {
	r := newTestRouter(&stubRetriever{items: scored(0.2)}, true)
	history := []memory.Message{
		{Role: memory.RoleHuman, Content: "who won?"},
		{Role: memory.RoleAssistant, Content: "Team A.", Route: "web"},
		{Role: memory.RoleHuman, Content: "q2"},
		{Role: memory.RoleAssistant, Content: "a2", Route: "documents"},
		{Role: memory.RoleHuman, Content: "q3"},
		{Role: memory.RoleAssistant, Content: "a3", Route: "documents"},
	}
	d := r.Decide(context.Background(), "and then?", history)
	if d.Route != RouteDocuments {
		t.Fatalf("web turn outside continuity window should not stick, got %s", d.Route)
	}
}

func TestRouterDefaultDocuments(t *testing.T) {
	r := newTestRouter(&stubRetriever{items: scored(0.4)}, true)
	d := r.Decide(context.Background(), "how do I reset my password?", nil)
	if d.Route != RouteDocuments {
		t.Fatalf("expected default documents route, got %s", d.Route)
	}
	if d.Reason != "using internal knowledge base as primary source" {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
	if d.Confidence != 0.4 {
		t.Fatalf("expected confidence to mirror relevance, got %v", d.Confidence)
	}
}

func TestRouterProbeFailureIsZeroRelevance(t *testing.T) {
	r := newTestRouter(&stubRetriever{err: errors.New("index offline")}, true)
	d := r.Decide(context.Background(), "how do I reset my password?", nil)
	if d.Route != RouteDocuments {
		t.Fatalf("expected documents route, got %s", d.Route)
	}
	if d.Confidence != 0 {
		t.Fatalf("probe failure should yield zero confidence, got %v", d.Confidence)
	}
}

func TestRouterDeterministic(t *testing.T) {
	retriever := &stubRetriever{items: scored(0.75)}
	r := newTestRouter(retriever, true)
	first := r.Decide(context.Background(), "what does the runbook say?", nil)
	second := r.Decide(context.Background(), "what does the runbook say?", nil)
	if first != second {
		t.Fatalf("identical inputs produced different decisions: %+v vs %+v", first, second)
	}
}
