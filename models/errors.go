package models

import (
	"context"
	"errors"
	"fmt"
)

// Error codes used in results, API responses and internal error handling.
const (
	ErrCodeNavigationTimeout  = "NAVIGATION_TIMEOUT"
	ErrCodeNavigation         = "NAVIGATION_FAILED"
	ErrCodePoolTimeout        = "POOL_TIMEOUT"
	ErrCodeInteractionTimeout = "INTERACTION_TIMEOUT"
	ErrCodeInteraction        = "INTERACTION_FAILED"
	ErrCodeExtraction         = "EXTRACTION_FAILED"
	ErrCodeBrowserCrash       = "BROWSER_CRASH"
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeCanceled           = "CANCELED"
	ErrCodeShutdown           = "SHUTTING_DOWN"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error embedded in results and API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// Retryable reports whether a fresh attempt on a fresh page may succeed.
func (e *ScrapeError) Retryable() bool {
	switch e.Code {
	case ErrCodeNavigationTimeout, ErrCodeNavigation, ErrCodePoolTimeout,
		ErrCodeInteractionTimeout, ErrCodeInteraction, ErrCodeExtraction,
		ErrCodeBrowserCrash:
		return true
	}
	return false
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *ScrapeError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// AsScrapeError returns err as a *ScrapeError, classifying plain errors.
// Context errors map to CANCELED, anything else to fallback.
func AsScrapeError(err error, fallback string) *ScrapeError {
	if err == nil {
		return nil
	}
	var se *ScrapeError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.Canceled) {
		return NewScrapeError(ErrCodeCanceled, "operation canceled", err)
	}
	return NewScrapeError(fallback, err.Error(), err)
}

// IsRetryable reports whether err carries a retryable error code.
func IsRetryable(err error) bool {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}
