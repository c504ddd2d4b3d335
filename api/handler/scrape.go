package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/scraper"
)

// Scrape returns a handler for POST /api/v1/scrape.
//
// The body is always a ScrapeResult; a failed job is reported with the
// status code of its error.
func Scrape(sc *scraper.Scraper) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		res := sc.Scrape(c.Request.Context(), &req)
		c.JSON(resultStatus(res.Error), res)
	}
}
