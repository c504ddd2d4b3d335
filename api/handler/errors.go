package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/harvest/models"
)

// respondError maps err to an HTTP status code and writes a structured
// JSON error response.
func respondError(c *gin.Context, err error) {
	var se *models.ScrapeError
	if !errors.As(err, &se) {
		se = models.NewScrapeError(models.ErrCodeInternal, err.Error(), err)
	}
	c.JSON(statusFor(se.Code), models.ErrorResponse{Success: false, Error: se.ToDetail()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{
		Success: false,
		Error: &models.ErrorDetail{
			Code:    models.ErrCodeInvalidInput,
			Message: err.Error(),
		},
	})
}

// statusFor translates error codes to HTTP status codes.
func statusFor(code string) int {
	switch code {
	case models.ErrCodeNavigationTimeout, models.ErrCodeInteractionTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeNavigation, models.ErrCodeInteraction,
		models.ErrCodeExtraction, models.ErrCodeBrowserCrash:
		return http.StatusBadGateway // 502
	case models.ErrCodePoolTimeout, models.ErrCodeShutdown:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeCanceled:
		return http.StatusRequestTimeout // 408
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}

// resultStatus is the status code for a job outcome carried in the body.
func resultStatus(e *models.ErrorDetail) int {
	if e == nil {
		return http.StatusOK
	}
	return statusFor(e.Code)
}
