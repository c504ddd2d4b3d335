package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/scraper"
)

// Health returns a handler for GET /api/v1/health.
//
// Reports pool utilisation and degrades status when > 80% of pages are active.
func Health(sc *scraper.Scraper, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := sc.Stats()
		capacity := sc.Pool().Capacity()

		status := "healthy"
		if capacity > 0 && stats.ActivePages > int(float64(capacity)*0.8) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:  status,
			Uptime:  sc.Uptime().Round(time.Second).String(),
			Stats:   stats,
			Version: version,
		})
	}
}

// Stats returns a handler for GET /api/v1/stats.
func Stats(sc *scraper.Scraper) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, sc.Stats())
	}
}
