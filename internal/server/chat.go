package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/docqa-ai/docqa/internal/agent/core"
	"github.com/docqa-ai/docqa/internal/memory"
)

// ChatHandler exposes question answering and session management.
type ChatHandler struct {
	Selector *core.Selector
	Memory   memory.Memory
	Metrics  *Metrics
	Logger   *log.Logger
}

func (h *ChatHandler) Register(g *echo.Group) {
	g.POST("", h.chat)
	g.POST("/stream", h.stream)
	g.GET("/sessions/:id", h.history)
	g.DELETE("/sessions/:id", h.clear)
}

type chatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
	// Route forces "documents" or "web", bypassing the router.
	Route string `json:"route"`
	// ForceStrategy skips strategy selection.
	ForceStrategy string `json:"force_strategy"`
	Structured    bool   `json:"structured"`
	MultiStep     bool   `json:"multi_step"`
}

func (r chatRequest) validate() error {
	if r.Question == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "question required")
	}
	switch core.Route(r.Route) {
	case "", core.RouteDocuments, core.RouteWeb:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "route must be documents or web")
	}
	switch core.Strategy(r.ForceStrategy) {
	case "", core.StrategyStandard, core.StrategyTools, core.StrategyHybrid:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "force_strategy must be standard, tools, or hybrid")
	}
	return nil
}

func (r chatRequest) agentRequest() core.Request {
	return core.Request{
		Question:   r.Question,
		SessionID:  r.SessionID,
		ForceRoute: core.Route(r.Route),
	}
}

type chatResponse struct {
	core.AgentResponse
	StrategyUsed core.Strategy  `json:"strategy_used"`
	Selection    core.Selection `json:"selection"`
	Attempts     []string       `json:"attempts,omitempty"`
}

func (h *ChatHandler) chat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.validate(); err != nil {
		return err
	}

	result := h.Selector.Ask(c.Request().Context(), req.agentRequest(), core.Hints{
		Structured:    req.Structured,
		MultiStep:     req.MultiStep,
		ForceStrategy: core.Strategy(req.ForceStrategy),
	})
	if len(result.Attempts) > 0 {
		h.Metrics.Fallbacks.Inc()
	}
	if result.Err != nil {
		if errors.Is(result.Err, core.ErrAllStrategiesFailed) {
			return c.JSON(http.StatusBadGateway, map[string]interface{}{
				"error":     result.Err.Error(),
				"selection": result.Selection,
				"attempts":  result.Attempts,
			})
		}
		return echo.NewHTTPError(http.StatusInternalServerError, result.Err.Error())
	}

	h.Metrics.Questions.WithLabelValues(string(result.Response.RouteDecision.Route)).Inc()
	return c.JSON(http.StatusOK, chatResponse{
		AgentResponse: result.Response,
		StrategyUsed:  result.StrategyUsed,
		Selection:     result.Selection,
		Attempts:      result.Attempts,
	})
}

// stream answers over newline-delimited JSON events: trace lines first,
// then answer fragments. Streaming always runs the standard pipeline.
func (h *ChatHandler) stream(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := req.validate(); err != nil {
		return err
	}

	agent := h.Selector.Agent(core.StrategyStandard)
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	resp.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(resp)

	for ev := range agent.AnswerStream(c.Request().Context(), req.agentRequest()) {
		if err := enc.Encode(ev); err != nil {
			h.Logger.Printf("stream write failed: %v", err)
			return nil
		}
		resp.Flush()
	}
	return nil
}

func (h *ChatHandler) history(c echo.Context) error {
	id := c.Param("id")
	messages, err := h.Memory.Read(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if messages == nil {
		messages = []memory.Message{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"session_id": id,
		"messages":   messages,
	})
}

func (h *ChatHandler) clear(c echo.Context) error {
	if err := h.Memory.Clear(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
