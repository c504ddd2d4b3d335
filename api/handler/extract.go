package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/scraper"
)

// Extract returns a handler for POST /api/v1/extract.
//
// Per-field failures are reported in the errors map with a 200; only a
// failure to load the page fails the request.
func Extract(sc *scraper.Scraper) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ExtractRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		res := sc.Extract(c.Request.Context(), &req)
		c.JSON(resultStatus(res.Error), res)
	}
}
