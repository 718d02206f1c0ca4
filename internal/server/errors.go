// Package server provides the HTTP front door for the purchase-order pipeline.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Sahmey2004/xtern/internal/mcp"
	"github.com/Sahmey2004/xtern/internal/pipeline"
	"github.com/Sahmey2004/xtern/internal/review"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrRunHistoryDisabled is returned by run history endpoints when no
// database is configured.
var ErrRunHistoryDisabled = errors.New("run history requires DATABASE_URL")

// ErrNotFound indicates a missing resource
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		validation  *ErrValidation
		notFound    *ErrNotFound
		invalidRun  *pipeline.InvalidInputError
		invalidReq  *review.InvalidRequestError
		unavailable *mcp.UnavailableError
		unknown     *mcp.UnknownProviderError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &invalidRun), errors.As(err, &invalidReq):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRunHistoryDisabled), errors.As(err, &unavailable), errors.As(err, &unknown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
