// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/parley/config"
	"github.com/mohammad-safakhou/parley/internal/executor"
	"github.com/mohammad-safakhou/parley/internal/extract"
	"github.com/mohammad-safakhou/parley/internal/llm"
	"github.com/mohammad-safakhou/parley/internal/orchestrator"
	"github.com/mohammad-safakhou/parley/internal/planner"
	"github.com/mohammad-safakhou/parley/internal/session"
	"github.com/mohammad-safakhou/parley/internal/session/inmemory"
	redisstore "github.com/mohammad-safakhou/parley/internal/session/redis"
	"github.com/mohammad-safakhou/parley/internal/telemetry"
)

// Run wires the whole pipeline from config and serves until the listener
// fails.
func Run(cfg *config.Config, addr string) error {
	provider, err := buildProvider(cfg)
	if err != nil {
		return err
	}

	var tel *telemetry.Telemetry
	if cfg.Telemetry.Enabled {
		tel = telemetry.New()
	}

	store, err := buildStore(cfg)
	if err != nil {
		return err
	}
	if ms, ok := store.(*inmemory.Store); ok {
		ms.StartSweeper(context.Background(), cfg.Session.SweepInterval)
	}

	extractor := extract.New(cfg.Extraction, cfg.Limits, provider, cfg.LLM.Routing.Whisper)
	plan := planner.New(provider, cfg.LLM.Routing.Planning, cfg.Limits, tel)
	exec := executor.New(provider, cfg.LLM.Routing.Execution, cfg.Limits, tel)
	orch := orchestrator.New(store, plan, exec, extractor, tel, cfg.Limits)

	h := &Handler{
		Orchestrator: orch,
		Store:        store,
		Extractor:    extractor,
		Limits:       cfg.Limits,
		logger:       log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
	}

	e := newRouter(h)
	if addr == "" {
		addr = cfg.Server.Listen
	}
	return e.Start(addr)
}

// newRouter builds the echo instance with middleware and routes; split out so
// handler tests can drive it directly.
func newRouter(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
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
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/process", h.Process)
	e.GET("/session/:id", h.GetSession)
	e.DELETE("/session/:id", h.DeleteSession)
	return e
}

// buildProvider picks the first OpenAI-compatible provider by sorted name, so
// the choice does not depend on map iteration order.
func buildProvider(cfg *config.Config) (llm.Provider, error) {
	names := make([]string, 0, len(cfg.LLM.Providers))
	for name := range cfg.LLM.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pc := cfg.LLM.Providers[name]
		if pc.Type == "openai" || pc.Type == "openai-compatible" || pc.Type == "" {
			return llm.NewOpenAIProvider(pc), nil
		}
	}
	if len(names) > 0 {
		return nil, fmt.Errorf("no openai-compatible provider among %v", names)
	}
	return nil, fmt.Errorf("no llm provider configured")
}

func buildStore(cfg *config.Config) (session.Store, error) {
	switch cfg.Session.Store {
	case "redis":
		addr := fmt.Sprintf("%s:%d", cfg.Session.Redis.Host, cfg.Session.Redis.Port)
		return redisstore.NewStore(addr, cfg.Session.Redis.Password, cfg.Session.Redis.DB, cfg.Session.Timeout), nil
	case "inmemory", "":
		return inmemory.NewStore(cfg.Session.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported session store %q", cfg.Session.Store)
	}
}
