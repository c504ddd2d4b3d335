// Package api wires the HTTP surface of harvest.
package api

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/harvest/api/handler"
	"github.com/use-agent/harvest/api/middleware"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/scraper"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// NewRouter creates a configured Gin engine with all routes and middleware.
// Background crawls and janitors stop when ctx is done.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(ctx context.Context, sc *scraper.Scraper, cfg *config.Config, log *slog.Logger) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(log))

	v1 := r.Group("/api/v1")

	// Health, no auth required.
	v1.GET("/health", handler.Health(sc, Version))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(ctx, cfg.APILimit))

	protected.POST("/scrape", handler.Scrape(sc))
	protected.POST("/extract", handler.Extract(sc))

	crawls := handler.NewCrawlStore(ctx)
	protected.POST("/crawl", handler.PostCrawl(sc, crawls, log))
	protected.GET("/crawl/:id", handler.GetCrawl(crawls))

	protected.GET("/stats", handler.Stats(sc))
	protected.DELETE("/cache", handler.ClearCache(sc))
	protected.GET("/sessions", handler.ListSessions(sc))
	protected.DELETE("/sessions/:id", handler.DeleteSession(sc))

	return r
}
