package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
)

// TaskCategory is the coarse kind of work a question asks for.
type TaskCategory string

const (
	TaskQA         TaskCategory = "qa"
	TaskSearch     TaskCategory = "search"
	TaskAnalysis   TaskCategory = "analysis"
	TaskWorkflow   TaskCategory = "workflow"
	TaskStructured TaskCategory = "structured_output"
)

// Complexity buckets a question by estimated effort.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Strategy names a pipeline configuration. Every strategy runs the same
// agent pipeline, only tuned differently.
type Strategy string

const (
	StrategyStandard Strategy = "standard"
	StrategyTools    Strategy = "tools"
	StrategyHybrid   Strategy = "hybrid"
)

// ErrAllStrategiesFailed is returned when every strategy in the fallback
// chain failed for a question.
var ErrAllStrategiesFailed = errors.New("all strategies failed")

// Hints are caller-provided classification signals that cannot be inferred
// from the question text alone.
type Hints struct {
	// Structured marks that the caller expects machine-readable output.
	Structured bool
	// MultiStep marks that the caller knows the request spans several
	// dependent steps.
	MultiStep bool
	// ForceStrategy skips classification-based selection entirely.
	ForceStrategy Strategy
}

// Selection is the classification and selection outcome for one question.
type Selection struct {
	Category   TaskCategory `json:"category"`
	Complexity Complexity   `json:"complexity"`
	Strategy   Strategy     `json:"strategy"`
	Reasoning  string       `json:"reasoning"`
	Confidence float64      `json:"confidence"`
	Fallbacks  []Strategy   `json:"fallbacks,omitempty"`
	Score      int          `json:"score"`
}

// Result is the structured outcome of a selector run. Err is set only when
// the whole fallback chain was exhausted; Attempts records what failed
// along the way.
type Result struct {
	Response     AgentResponse `json:"response"`
	Selection    Selection     `json:"selection"`
	StrategyUsed Strategy      `json:"strategy_used"`
	Attempts     []string      `json:"attempts,omitempty"`
	Err          error         `json:"-"`
}

var complexKeywords = []string{
	"analyze", "compare", "evaluate", "synthesize", "comprehensive",
	"detailed", "in depth", "trade-off", "tradeoff",
}

var searchKeywords = []string{
	"search", "find", "look up", "latest", "news", "current", "recent",
}

var analysisKeywords = []string{
	"analyze", "analysis", "compare", "evaluate", "summarize", "why",
	"difference between",
}

var workflowKeywords = []string{
	"step by step", "then ", "after that", "first,", "workflow", "pipeline",
}

var structuredKeywords = []string{
	"json", "yaml", "csv", "table", "bullet list", "as a list", "format",
}

// Classify categorizes a question and scores its complexity. The scoring
// is intentionally cheap and fully deterministic: word count, clause
// structure, keyword hits, and the caller hints.
func Classify(question string, hints Hints) Selection {
	lowered := strings.ToLower(question)

	category := TaskQA
	switch {
	case hints.Structured || containsAny(lowered, structuredKeywords):
		category = TaskStructured
	case hints.MultiStep || containsAny(lowered, workflowKeywords):
		category = TaskWorkflow
	case containsAny(lowered, analysisKeywords):
		category = TaskAnalysis
	case containsAny(lowered, searchKeywords):
		category = TaskSearch
	}

	score := 0
	words := len(strings.Fields(question))
	switch {
	case words > 20:
		score += 2
	case words > 10:
		score++
	}
	if strings.Count(question, ",")+strings.Count(question, ";") >= 2 {
		score += 2
	}
	if containsAny(lowered, complexKeywords) {
		score += 3
	}
	if hints.Structured {
		score++
	}
	if hints.MultiStep {
		score++
	}

	complexity := ComplexitySimple
	switch {
	case score >= 5:
		complexity = ComplexityComplex
	case score >= 2:
		complexity = ComplexityModerate
	}

	selection := Select(category, complexity, hints)
	selection.Score = score
	return selection
}

type selectionRow struct {
	strategy   Strategy
	reasoning  string
	confidence float64
}

// selectionTable is the fixed (category, complexity) lookup. Changing it
// changes strategy routing for every caller at once.
var selectionTable = map[TaskCategory]map[Complexity]selectionRow{
	TaskQA: {
		ComplexitySimple:   {StrategyStandard, "simple question answering", 0.9},
		ComplexityModerate: {StrategyStandard, "moderate question answering", 0.8},
		ComplexityComplex:  {StrategyHybrid, "complex questions benefit from the full pipeline", 0.7},
	},
	TaskSearch: {
		ComplexitySimple:   {StrategyTools, "search tasks need tool access", 0.85},
		ComplexityModerate: {StrategyTools, "search tasks need tool access", 0.85},
		ComplexityComplex:  {StrategyTools, "search tasks need tool access", 0.8},
	},
	TaskAnalysis: {
		ComplexitySimple:   {StrategyStandard, "light analysis fits the standard pipeline", 0.75},
		ComplexityModerate: {StrategyHybrid, "analysis benefits from richer sources", 0.75},
		ComplexityComplex:  {StrategyHybrid, "deep analysis needs the full pipeline", 0.8},
	},
	TaskWorkflow: {
		ComplexitySimple:   {StrategyHybrid, "multi-step requests run the full pipeline", 0.8},
		ComplexityModerate: {StrategyHybrid, "multi-step requests run the full pipeline", 0.8},
		ComplexityComplex:  {StrategyHybrid, "multi-step requests run the full pipeline", 0.8},
	},
	TaskStructured: {
		ComplexitySimple:   {StrategyStandard, "structured output over the standard pipeline", 0.8},
		ComplexityModerate: {StrategyStandard, "structured output over the standard pipeline", 0.8},
		ComplexityComplex:  {StrategyHybrid, "complex structured output needs richer context", 0.7},
	},
}

// Select maps a classification to a strategy with its reasoning,
// confidence, and ordered fallbacks. Combinations missing from the table
// fall back to the caller hints, then to the balanced default.
func Select(category TaskCategory, complexity Complexity, hints Hints) Selection {
	row, ok := selectionTable[category][complexity]
	if !ok {
		switch {
		case hints.MultiStep:
			row = selectionRow{StrategyHybrid, "caller marked the request multi-step", 0.65}
		case hints.Structured:
			row = selectionRow{StrategyTools, "caller expects structured output", 0.65}
		default:
			row = selectionRow{StrategyHybrid, "balanced default", 0.6}
		}
	}
	return Selection{
		Category:   category,
		Complexity: complexity,
		Strategy:   row.strategy,
		Reasoning:  row.reasoning,
		Confidence: row.confidence,
		Fallbacks:  fallbacksFor(row.strategy),
	}
}

// fallbacksFor orders the strategies tried after the chosen one failed.
// The chain always ends at standard, the cheapest configuration.
func fallbacksFor(strategy Strategy) []Strategy {
	switch strategy {
	case StrategyHybrid:
		return []Strategy{StrategyTools, StrategyStandard}
	case StrategyTools:
		return []Strategy{StrategyStandard}
	default:
		return nil
	}
}

// Selector classifies questions and dispatches them to one of several
// pre-built agent configurations, falling back down the chain when a
// strategy fails.
type Selector struct {
	agents map[Strategy]*Agent
	logger *log.Logger
}

// NewSelector builds the three strategy agents from shared collaborators.
// All strategies share the router, memory, and providers; only the agent
// tuning differs.
func NewSelector(router *Router, retriever Retriever, web WebSearcher, generator Generator, mem Memory, base AgentConfig, logger *log.Logger) (*Selector, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[SELECTOR] ", log.LstdFlags)
	}

	configs := map[Strategy]AgentConfig{
		StrategyStandard: base,
		StrategyTools:    toolsConfig(base),
		StrategyHybrid:   hybridConfig(base),
	}

	agents := make(map[Strategy]*Agent, len(configs))
	for strategy, cfg := range configs {
		agent, err := NewAgent(router, retriever, web, generator, mem, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("build %s agent: %w", strategy, err)
		}
		agents[strategy] = agent
	}
	return &Selector{agents: agents, logger: logger}, nil
}

func toolsConfig(base AgentConfig) AgentConfig {
	cfg := base.withDefaults()
	cfg.AnnotateSources = true
	cfg.TopK = cfg.TopK + 2
	return cfg
}

func hybridConfig(base AgentConfig) AgentConfig {
	cfg := toolsConfig(base)
	cfg.GenerateTimeout = cfg.GenerateTimeout * 2
	return cfg
}

// Agent returns the agent behind one strategy, mainly for streaming
// callers that want to bypass the fallback chain.
func (s *Selector) Agent(strategy Strategy) *Agent {
	return s.agents[strategy]
}

// Ask classifies the question, then walks the fallback chain until a
// strategy produces an answer. Every failure is recorded in the result;
// only full exhaustion sets Result.Err.
func (s *Selector) Ask(ctx context.Context, req Request, hints Hints) Result {
	selection := Classify(req.Question, hints)
	if hints.ForceStrategy != "" {
		selection.Strategy = hints.ForceStrategy
		selection.Reasoning = "strategy forced by caller"
		selection.Confidence = 1.0
		selection.Fallbacks = fallbacksFor(hints.ForceStrategy)
	}
	result := Result{Selection: selection}

	chain := append([]Strategy{selection.Strategy}, selection.Fallbacks...)

	var lastErr error
	for _, strategy := range chain {
		agent, ok := s.agents[strategy]
		if !ok {
			continue
		}
		resp, err := agent.Answer(ctx, req)
		if err == nil {
			result.Response = resp
			result.StrategyUsed = strategy
			return result
		}
		lastErr = err
		s.logger.Printf("strategy %s failed: %v", strategy, err)
		result.Attempts = append(result.Attempts, fmt.Sprintf("%s: %v", strategy, err))
		if ctx.Err() != nil {
			break
		}
	}

	result.Err = fmt.Errorf("%w: %v", ErrAllStrategiesFailed, lastErr)
	return result
}

func containsAny(s string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}
