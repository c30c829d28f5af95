package core

import (
	"context"
	"errors"

	"github.com/docqa-ai/docqa/internal/memory"
)

// Route identifies the context source chosen for a question.
type Route string

const (
	RouteDocuments Route = "documents"
	RouteWeb       Route = "web"
)

// DefaultSession is used when the caller supplies no session id.
const DefaultSession = "default"

// ErrNoGenerator is returned when no answer-generation provider is
// configured at all. This is fatal and never degraded.
var ErrNoGenerator = errors.New("no generation provider configured")

// RouteDecision records how a question was routed. Produced once per
// question and never mutated afterwards.
type RouteDecision struct {
	Route      Route   `json:"route"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

// ContextItem is one piece of grounding for an answer. An empty list of
// context items is valid and means "no support found".
type ContextItem struct {
	Content        string  `json:"content"`
	SourceType     Route   `json:"source_type"`
	Title          string  `json:"title,omitempty"`
	URL            string  `json:"url,omitempty"`
	RelevanceScore float64 `json:"relevance_score,omitempty"`
	DocumentID     string  `json:"document_id,omitempty"`
}

// AgentResponse is the unit returned to callers.
type AgentResponse struct {
	Answer        string        `json:"answer"`
	Sources       []ContextItem `json:"sources"`
	RouteDecision RouteDecision `json:"route_decision"`
	SessionID     string        `json:"session_id,omitempty"`
	Trace         []string      `json:"trace,omitempty"`
}

// Retriever queries the local document store. Implementations report
// relevance scores in [0,1] via ContextItem.RelevanceScore.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]ContextItem, error)
}

// WebSearcher queries a live web-search provider. "No results" is not an
// error: implementations return an empty slice and an empty direct answer.
// The direct answer, when present, is a ready-made answer from the provider
// itself, distinct from synthesized text.
type WebSearcher interface {
	SearchWithAnswer(ctx context.Context, query string) ([]ContextItem, string, error)
}

// AnswerStream yields answer fragments; Recv returns io.EOF when complete.
type AnswerStream interface {
	Recv() (string, error)
	Close() error
}

// Generator synthesizes a grounded answer from a question and context
// strings.
type Generator interface {
	GenerateAnswer(ctx context.Context, question string, contexts []string) (string, error)
	StreamAnswer(ctx context.Context, question string, contexts []string) (AnswerStream, error)
}

// Memory is the session-history contract the agent depends on.
type Memory = memory.Memory
