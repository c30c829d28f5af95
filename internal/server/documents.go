package server

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/docqa-ai/docqa/config"
	"github.com/docqa-ai/docqa/internal/queue/streams"
	"github.com/docqa-ai/docqa/internal/store"
)

// DocumentsHandler registers documents and hands them to the ingestion
// queue.
type DocumentsHandler struct {
	Store     *store.Store
	Publisher *streams.Publisher
	Ingest    config.IngestConfig
	Metrics   *Metrics
}

func (h *DocumentsHandler) Register(g *echo.Group) {
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

func (h *DocumentsHandler) create(c echo.Context) error {
	var req struct {
		Title   string `json:"title"`
		Source  string `json:"source"`
		Content string `json:"content"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Title == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title required")
	}
	if req.Source == "" && req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source or content required")
	}

	ctx := c.Request().Context()
	id, err := h.Store.CreateDocument(ctx, req.Title, req.Source, req.Content)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if _, err := h.Publisher.PublishIngest(ctx, h.Ingest.Stream, id, 0); err != nil {
		// The document row stays pending; the janitor will pick it up.
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.Metrics.DocumentsQueued.Inc()
	return c.JSON(http.StatusCreated, map[string]string{"id": id, "status": store.StatusPending})
}

func (h *DocumentsHandler) list(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	docs, err := h.Store.ListDocuments(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if docs == nil {
		docs = []store.Document{}
	}
	return c.JSON(http.StatusOK, docs)
}

func (h *DocumentsHandler) get(c echo.Context) error {
	doc, err := h.Store.GetDocument(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "document not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, doc)
}
