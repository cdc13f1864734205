// Package apperr defines the error taxonomy shared across the pipeline and
// its mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel error kinds, matched with errors.Is against wrapped errors
// returned by every component.
var (
	ErrValidationFailed        = errors.New("validation failed")
	ErrClassificationFailed    = errors.New("classification failed")
	ErrPlaybookNotApproved     = errors.New("playbook not approved")
	ErrTimeout                 = errors.New("timeout")
	ErrToolFailure              = errors.New("tool failure")
	ErrIdempotencyViolation    = errors.New("idempotency violation")
	ErrTenantIsolationViolation = errors.New("tenant isolation violation")
	ErrConfigUnavailable       = errors.New("config unavailable")
	ErrInternal                = errors.New("internal error")

	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Error wraps a sentinel kind with contextual detail, exposing Unwrap so
// errors.Is/errors.As keep working against the sentinel.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

// New builds a new Error for the given sentinel kind.
func New(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps an error (or a wrapped sentinel within it) to a status
// code per spec's exit-code table.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTenantIsolationViolation):
		return http.StatusForbidden
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
