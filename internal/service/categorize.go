package service

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/trip-forecast-service/internal/forecast"
	"github.com/kjstillabower/trip-forecast-service/internal/geocode"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as metric labels (forecastFailuresTotal).
const (
	ErrorCategoryTimeout       ErrorCategory = "timeout"
	ErrorCategoryNetwork       ErrorCategory = "network"
	ErrorCategoryInvalidAPIKey ErrorCategory = "invalid_api_key"
	ErrorCategoryInvalidQuery  ErrorCategory = "invalid_query"
	ErrorCategoryNotFound      ErrorCategory = "place_not_found"
	ErrorCategorySuperseded    ErrorCategory = "superseded"
	ErrorCategoryBadResponse   ErrorCategory = "bad_response"
	ErrorCategoryDecode        ErrorCategory = "decode"
	ErrorCategoryUnknown       ErrorCategory = "unknown"
)

// CategorizeError maps an error from the resolve/fetch pipeline to a stable
// ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorCategoryTimeout
	}

	switch {
	case errors.Is(err, geocode.ErrInvalidQuery):
		return ErrorCategoryInvalidQuery
	case errors.Is(err, geocode.ErrNotFound):
		return ErrorCategoryNotFound
	case errors.Is(err, geocode.ErrSuperseded):
		return ErrorCategorySuperseded
	case errors.Is(err, geocode.ErrInvalidAPIKey), errors.Is(err, forecast.ErrInvalidAPIKey):
		return ErrorCategoryInvalidAPIKey
	case errors.Is(err, forecast.ErrDecode):
		return ErrorCategoryDecode
	case errors.Is(err, forecast.ErrBadResponse), errors.Is(err, geocode.ErrBadResponse):
		return ErrorCategoryBadResponse
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(errStr, "network") || strings.Contains(errStr, "connection") {
		return ErrorCategoryNetwork
	}
	return ErrorCategoryUnknown
}
