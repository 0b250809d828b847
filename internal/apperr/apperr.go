// Package apperr holds the error taxonomy shared by every bounded context.
// Domain errors are marked with one of the sentinels below so transport code
// can classify them with errors.Is without knowing the concrete error.
package apperr

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks an operation that is not allowed in the current state.
	ErrConflict = errors.New("state conflict")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized marks a missing or invalid principal.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden marks a principal lacking a capability or ownership.
	ErrForbidden = errors.New("forbidden")
)

// Validation builds a validation error.
func Validation(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

// Conflict builds a state conflict error.
func Conflict(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrConflict)
}

// NotFound builds a not found error.
func NotFound(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrNotFound)
}

// Forbidden builds a forbidden error.
func Forbidden(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrForbidden)
}

// RowError describes one invalid row of a bulk request.
type RowError struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// BulkError reports every invalid row of a rejected bulk request.
type BulkError struct {
	Rows []RowError
}

func (e *BulkError) Error() string {
	if e == nil || len(e.Rows) == 0 {
		return "bulk validation failed"
	}
	parts := make([]string, 0, len(e.Rows))
	for _, row := range e.Rows {
		parts = append(parts, fmt.Sprintf("row %d: %s", row.Index, row.Reason))
	}
	return "bulk validation failed: " + strings.Join(parts, "; ")
}

// Is makes a BulkError match ErrValidation.
func (e *BulkError) Is(target error) bool {
	return target == ErrValidation
}

// Kind returns a short code for the taxonomy class of err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	default:
		return "internal"
	}
}
