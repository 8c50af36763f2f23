package app

import (
	"errors"
	"net/http"

	"github.com/fiffu/reviewwatch/lib"
	"github.com/fiffu/reviewwatch/lib/models"
	"github.com/fiffu/reviewwatch/lib/orchestrator"
)

// APIError is the body of every non-2xx response.
type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`

	status int
}

func newAPIError(err error) *APIError {
	var limited *orchestrator.RateLimitedError
	var fetchFailed *orchestrator.FetchFailedError

	switch {
	case errors.Is(err, models.ErrInvalidSource), errors.Is(err, models.ErrInvalidClient):
		return &APIError{Code: "invalid_request", Message: err.Error(), status: http.StatusBadRequest}

	case errors.As(err, &limited):
		return &APIError{
			Code:    "rate_limited",
			Message: "refresh is cooling down",
			Details: map[string]any{
				"remaining_seconds": limited.RemainingSeconds,
				"next_allowed_at":   limited.NextAllowedAt,
			},
			status: http.StatusTooManyRequests,
		}

	case errors.As(err, &fetchFailed):
		return &APIError{Code: "fetch_failed", Message: fetchFailed.Reason, status: http.StatusBadGateway}

	case errors.Is(err, lib.ErrNoSnapshot):
		return &APIError{Code: "not_found", Message: err.Error(), status: http.StatusNotFound}

	default:
		return &APIError{Code: "internal_error", Message: "internal error", status: http.StatusInternalServerError}
	}
}
