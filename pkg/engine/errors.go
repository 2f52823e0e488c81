package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Operation errors. Messages are deliberately generic: they distinguish the
// kind of failure without echoing what was attempted.
var (
	// ErrForbidden is an access-control denial. Raised before any storage
	// mutation; the primary store is left untouched.
	ErrForbidden = errors.New("forbidden")

	// ErrConsentRequired is raised when a consent-bearing record is created
	// without consent_given set to true.
	ErrConsentRequired = errors.New("consent required")

	// ErrValidation covers field-level shape errors such as undeclared
	// fields or missing required values.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned for missing records and unknown resource types
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an update loses its optimistic version
	// check twice in a row.
	ErrConflict = errors.New("conflict")

	// ErrAuditWrite marks an audit append failure. Never surfaced to
	// callers; escalated to monitoring by the pipeline.
	ErrAuditWrite = errors.New("audit write failed")
)

// ValidationError names the offending fields. Field names are part of the
// declared schema and safe to surface; values never are.
type ValidationError struct {
	Fields []string
	Detail string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		if e.Detail != "" {
			return fmt.Sprintf("validation failed: %s", e.Detail)
		}
		return "validation failed"
	}
	return fmt.Sprintf("validation failed on fields: %s", strings.Join(e.Fields, ", "))
}

// Is makes the error match ErrValidation under errors.Is
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError builds a ValidationError for the given fields
func NewValidationError(fields ...string) error {
	return &ValidationError{Fields: fields}
}
