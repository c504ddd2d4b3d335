package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/scraper"
)

// ClearCache returns a handler for DELETE /api/v1/cache.
func ClearCache(sc *scraper.Scraper) gin.HandlerFunc {
	return func(c *gin.Context) {
		n := sc.ClearCache()
		c.JSON(http.StatusOK, models.ClearCacheResponse{Success: true, Cleared: n})
	}
}

// ListSessions returns a handler for GET /api/v1/sessions.
func ListSessions(sc *scraper.Scraper) gin.HandlerFunc {
	return func(c *gin.Context) {
		infos, err := sc.ListSessions(c.Request.Context())
		if err != nil {
			respondError(c, models.NewScrapeError(models.ErrCodeInternal, "failed to list sessions", err))
			return
		}
		if infos == nil {
			infos = []models.SessionInfo{}
		}
		c.JSON(http.StatusOK, models.SessionsResponse{Sessions: infos})
	}
}

// DeleteSession returns a handler for DELETE /api/v1/sessions/:id.
func DeleteSession(sc *scraper.Scraper) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := sc.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
