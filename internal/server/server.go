package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/docqa-ai/docqa/config"
	"github.com/docqa-ai/docqa/internal/agent/core"
	"github.com/docqa-ai/docqa/internal/memory"
	"github.com/docqa-ai/docqa/internal/queue/streams"
	"github.com/docqa-ai/docqa/internal/retrieval"
	"github.com/docqa-ai/docqa/internal/store"
	"github.com/docqa-ai/docqa/provider"
	"github.com/docqa-ai/docqa/tools/websearch"
)

// Run wires every dependency explicitly and serves the HTTP API until the
// listener fails. All construction happens here; handlers receive their
// collaborators and never reach for globals.
func Run(cfg *config.Config) error {
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e := newEcho(cfg, baseLogger)

	ctx := context.Background()

	if err := cfg.LLM.Validate(); err != nil {
		return err
	}
	llm, err := provider.NewProvider(cfg.LLM)
	if err != nil {
		return err
	}

	st, err := store.New(ctx, cfg.Storage.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	if err := cfg.Storage.Redis.Validate(); err != nil {
		return err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr,
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr, err)
	}

	searcher, err := websearch.New(cfg.WebSearch)
	if err != nil {
		return err
	}
	if searcher == nil {
		baseLogger.Printf("web search not configured; routing everything to documents")
	}

	retriever, err := retrieval.NewHybrid(llm, st, cfg.Retrieval,
		log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags))
	if err != nil {
		return err
	}

	var mem memory.Memory
	switch cfg.Memory.Backend {
	case "redis":
		mem = memory.NewRedis(rdb, cfg.Memory.MaxTurns, cfg.Memory.TTL, cfg.Memory.Prefix)
	default:
		mem = memory.NewInMemory(cfg.Memory.MaxTurns)
	}

	router := core.NewRouter(retriever, searcher != nil, cfg.Routing,
		log.New(log.Writer(), "[ROUTER] ", log.LstdFlags))
	base := core.AgentConfig{
		TopK:             cfg.Retrieval.TopK,
		RetrievalTimeout: cfg.Retrieval.Timeout,
		WebTimeout:       cfg.WebSearch.Timeout,
		GenerateTimeout:  cfg.LLM.Timeout,
	}
	selector, err := core.NewSelector(router, retriever, searcher, llm, mem, base,
		log.New(log.Writer(), "[SELECTOR] ", log.LstdFlags))
	if err != nil {
		return err
	}

	metrics := NewMetrics(prometheus.DefaultRegisterer)
	publisher := streams.NewPublisher(rdb)

	api := e.Group("/api")
	ch := &ChatHandler{Selector: selector, Memory: mem, Metrics: metrics, Logger: baseLogger}
	ch.Register(api.Group("/chat"))
	dh := &DocumentsHandler{Store: st, Publisher: publisher, Ingest: cfg.Ingest, Metrics: metrics}
	dh.Register(api.Group("/documents"))

	baseLogger.Printf("listening on %s", cfg.Server.Address)
	return e.Start(cfg.Server.Address)
}

// newEcho builds the echo instance with recovery, CORS, the unified JSON
// error handler, and the operational endpoints.
func newEcho(cfg *config.Config, baseLogger *log.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	origins := cfg.Server.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}
