package core

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/docqa-ai/docqa/internal/memory"
)

var agentTracer trace.Tracer = otel.Tracer("docqa/internal/agent")

// syntheticContext grounds the synthesizer when retrieval finds nothing and
// no direct web answer exists, so generation always receives at least one
// context.
const syntheticContext = "No supporting documents were retrieved; reply conservatively and say so."

// uncertaintyMarker in a synthesized answer triggers the direct-answer
// fallback when one is available.
const uncertaintyMarker = "I don't know"

// directAnswerSeparator joins a weak synthesized answer with the provider's
// direct answer.
const directAnswerSeparator = "\n\nWeb suggests: "

// Request is one question submitted to the agent.
type Request struct {
	Question  string
	SessionID string
	// ForceRoute overrides the router when set. This is the only way a
	// RouteDecision is ever overridden.
	ForceRoute Route
}

// EventKind classifies streamed events.
type EventKind string

const (
	EventTrace  EventKind = "trace"
	EventAnswer EventKind = "answer"
	EventError  EventKind = "error"
)

// StreamEvent is one element of a streamed response: a trace line, an
// answer fragment, or a terminal error.
type StreamEvent struct {
	Kind EventKind `json:"type"`
	Text string    `json:"text"`
}

// AgentConfig tunes one agent pipeline. Strategies are just differently
// tuned configurations of the same pipeline.
type AgentConfig struct {
	// TopK is the number of document contexts fetched per question.
	TopK int
	// AnnotateSources renders titles alongside content when building the
	// generation prompt contexts.
	AnnotateSources bool
	// Per-provider timeouts. Retrieval is local and fast; web search and
	// generation get larger budgets.
	RetrievalTimeout time.Duration
	WebTimeout       time.Duration
	GenerateTimeout  time.Duration
}

func (c AgentConfig) withDefaults() AgentConfig {
	if c.TopK <= 0 {
		c.TopK = 4
	}
	if c.RetrievalTimeout <= 0 {
		c.RetrievalTimeout = 5 * time.Second
	}
	if c.WebTimeout <= 0 {
		c.WebTimeout = 30 * time.Second
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 60 * time.Second
	}
	return c
}

// Agent orchestrates one question end to end: route, fetch context,
// synthesize, fall back on weak answers, persist the turn. The steps always
// execute in that order; no step is re-entrant.
type Agent struct {
	router    *Router
	retriever Retriever
	web       WebSearcher // nil when no provider is configured
	generator Generator
	memory    Memory
	cfg       AgentConfig
	logger    *log.Logger
}

// NewAgent wires an agent. generator is mandatory; a nil web searcher is the
// explicit representation of "web search unavailable".
func NewAgent(router *Router, retriever Retriever, web WebSearcher, generator Generator, mem Memory, cfg AgentConfig, logger *log.Logger) (*Agent, error) {
	if generator == nil {
		return nil, ErrNoGenerator
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[AGENT] ", log.LstdFlags)
	}
	return &Agent{
		router:    router,
		retriever: retriever,
		web:       web,
		generator: generator,
		memory:    mem,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}, nil
}

func sessionKey(id string) string {
	if id == "" {
		return DefaultSession
	}
	return id
}

// Answer runs the buffered pipeline and returns the complete response.
func (a *Agent) Answer(ctx context.Context, req Request) (AgentResponse, error) {
	ctx, span := agentTracer.Start(ctx, "agent.answer",
		trace.WithAttributes(attribute.String("session.id", sessionKey(req.SessionID))))
	defer span.End()

	var tr []string
	session := sessionKey(req.SessionID)
	history := a.loadHistory(ctx, session)

	decision := a.route(ctx, req, history)
	tr = append(tr, traceRoute(decision))
	span.SetAttributes(attribute.String("route", string(decision.Route)))

	sources, direct, fetchTrace := a.fetchContext(ctx, req.Question, decision.Route)
	tr = append(tr, fetchTrace...)

	answer, answerTrace, err := a.synthesize(ctx, req.Question, sources, direct)
	tr = append(tr, answerTrace...)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return AgentResponse{}, err
	}

	a.persistTurn(ctx, session, req.Question, answer, decision.Route)

	return AgentResponse{
		Answer:        answer,
		Sources:       sources,
		RouteDecision: decision,
		SessionID:     session,
		Trace:         tr,
	}, nil
}

// AnswerStream runs the same pipeline but emits trace lines and answer
// fragments as they are produced. The turn is persisted only after the
// stream completes; if the consumer abandons the stream (context canceled),
// persistence is skipped entirely so memory never holds a partial turn.
func (a *Agent) AnswerStream(ctx context.Context, req Request) <-chan StreamEvent {
	out := make(chan StreamEvent)
	go func() {
		defer close(out)
		ctx, span := agentTracer.Start(ctx, "agent.answer_stream",
			trace.WithAttributes(attribute.String("session.id", sessionKey(req.SessionID))))
		defer span.End()

		emit := func(ev StreamEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		session := sessionKey(req.SessionID)
		history := a.loadHistory(ctx, session)

		decision := a.route(ctx, req, history)
		if !emit(StreamEvent{Kind: EventTrace, Text: traceRoute(decision)}) {
			return
		}

		sources, direct, fetchTrace := a.fetchContext(ctx, req.Question, decision.Route)
		for _, line := range fetchTrace {
			if !emit(StreamEvent{Kind: EventTrace, Text: line}) {
				return
			}
		}

		var answer string
		if len(sources) == 0 && direct != "" {
			if !emit(StreamEvent{Kind: EventTrace, Text: "[answer] using direct web answer"}) {
				return
			}
			if !emit(StreamEvent{Kind: EventAnswer, Text: direct}) {
				return
			}
			answer = direct
		} else {
			contexts := a.renderContexts(sources)
			if len(contexts) == 0 {
				if !emit(StreamEvent{Kind: EventTrace, Text: "[answer] no contexts retrieved; replying conservatively"}) {
					return
				}
				contexts = []string{syntheticContext}
			}

			gctx, cancel := context.WithTimeout(ctx, a.cfg.GenerateTimeout)
			stream, err := a.generator.StreamAnswer(gctx, req.Question, contexts)
			if err != nil {
				cancel()
				span.SetStatus(codes.Error, err.Error())
				emit(StreamEvent{Kind: EventError, Text: err.Error()})
				return
			}
			var b strings.Builder
			for {
				chunk, err := stream.Recv()
				if err == io.EOF {
					break
				}
				if err != nil {
					_ = stream.Close()
					cancel()
					span.SetStatus(codes.Error, err.Error())
					emit(StreamEvent{Kind: EventError, Text: err.Error()})
					return
				}
				b.WriteString(chunk)
				if !emit(StreamEvent{Kind: EventAnswer, Text: chunk}) {
					_ = stream.Close()
					cancel()
					return
				}
			}
			_ = stream.Close()
			cancel()

			answer = strings.TrimSpace(b.String())
			if weakAnswer(answer) && direct != "" {
				if answer == "" {
					answer = direct
					if !emit(StreamEvent{Kind: EventAnswer, Text: direct}) {
						return
					}
				} else {
					fragment := directAnswerSeparator + direct
					answer += fragment
					if !emit(StreamEvent{Kind: EventAnswer, Text: fragment}) {
						return
					}
				}
			}
		}

		if ctx.Err() != nil {
			return
		}
		a.persistTurn(ctx, session, req.Question, answer, decision.Route)
	}()
	return out
}

// loadHistory reads session history; failure is empty history, never fatal.
func (a *Agent) loadHistory(ctx context.Context, session string) []memory.Message {
	if a.memory == nil {
		return nil
	}
	history, err := a.memory.Read(ctx, session)
	if err != nil {
		a.logger.Printf("history load failed for session %s: %v", session, err)
		return nil
	}
	return history
}

func (a *Agent) route(ctx context.Context, req Request, history []memory.Message) RouteDecision {
	if req.ForceRoute != "" {
		return RouteDecision{Route: req.ForceRoute, Reason: "route forced by caller", Confidence: 1.0}
	}
	return a.router.Decide(ctx, req.Question, history)
}

// fetchContext queries the provider for the decided route. Provider failures
// degrade to an empty context list; they are logged and traced, never
// surfaced.
func (a *Agent) fetchContext(ctx context.Context, question string, route Route) ([]ContextItem, string, []string) {
	if route == RouteWeb {
		if a.web == nil {
			items, tr := a.fetchDocuments(ctx, question)
			return items, "", append([]string{"[fetch] web search disabled; falling back to document contexts"}, tr...)
		}
		wctx, cancel := context.WithTimeout(ctx, a.cfg.WebTimeout)
		defer cancel()
		items, direct, err := a.web.SearchWithAnswer(wctx, question)
		if err != nil {
			a.logger.Printf("web search failed: %v", err)
			return nil, "", []string{"[fetch] web search failed; continuing without contexts"}
		}
		return items, direct, []string{fmt.Sprintf("[fetch] retrieved %d web snippet(s)", len(items))}
	}

	items, tr := a.fetchDocuments(ctx, question)
	return items, "", tr
}

func (a *Agent) fetchDocuments(ctx context.Context, question string) ([]ContextItem, []string) {
	if a.retriever == nil {
		return nil, []string{"[fetch] no document retriever configured"}
	}
	rctx, cancel := context.WithTimeout(ctx, a.cfg.RetrievalTimeout)
	defer cancel()
	items, err := a.retriever.Query(rctx, question, a.cfg.TopK)
	if err != nil {
		a.logger.Printf("retrieval failed: %v", err)
		return nil, []string{"[fetch] retrieval failed; continuing without contexts"}
	}
	return items, []string{fmt.Sprintf("[fetch] retrieved %d context chunk(s)", len(items))}
}

// synthesize produces the final answer text for the buffered path,
// including the direct-answer shortcut, the synthetic context, and the
// weak-answer fallback.
func (a *Agent) synthesize(ctx context.Context, question string, sources []ContextItem, direct string) (string, []string, error) {
	if len(sources) == 0 && direct != "" {
		return direct, []string{"[answer] using direct web answer"}, nil
	}

	var tr []string
	contexts := a.renderContexts(sources)
	if len(contexts) == 0 {
		tr = append(tr, "[answer] no contexts retrieved; replying conservatively")
		contexts = []string{syntheticContext}
	}

	gctx, cancel := context.WithTimeout(ctx, a.cfg.GenerateTimeout)
	defer cancel()
	answer, err := a.generator.GenerateAnswer(gctx, question, contexts)
	if err != nil {
		return "", tr, fmt.Errorf("generate answer: %w", err)
	}
	answer = strings.TrimSpace(answer)

	if weakAnswer(answer) && direct != "" {
		tr = append(tr, "[answer] synthesis weak; merging direct web answer")
		if answer == "" {
			answer = direct
		} else {
			answer += directAnswerSeparator + direct
		}
	}
	return answer, tr, nil
}

func (a *Agent) renderContexts(sources []ContextItem) []string {
	contexts := make([]string, 0, len(sources))
	for _, item := range sources {
		if item.Content == "" {
			continue
		}
		if a.cfg.AnnotateSources && item.Title != "" {
			contexts = append(contexts, fmt.Sprintf("%s: %s", item.Title, item.Content))
			continue
		}
		contexts = append(contexts, item.Content)
	}
	return contexts
}

// persistTurn appends exactly one (question, answer) turn. The two messages
// are written in a single append so memory never holds half a turn. Failure
// to persist does not fail an already-produced answer.
func (a *Agent) persistTurn(ctx context.Context, session, question, answer string, route Route) {
	if a.memory == nil {
		return
	}
	err := a.memory.Append(ctx, session, []memory.Message{
		{Role: memory.RoleHuman, Content: question},
		{Role: memory.RoleAssistant, Content: answer, Route: string(route)},
	})
	if err != nil {
		a.logger.Printf("persist turn failed for session %s: %v", session, err)
	}
}

func weakAnswer(answer string) bool {
	return answer == "" || strings.Contains(answer, uncertaintyMarker)
}

func traceRoute(d RouteDecision) string {
	return fmt.Sprintf("[route] %s: %s (confidence %.2f)", d.Route, d.Reason, d.Confidence)
}
