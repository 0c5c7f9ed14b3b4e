package domain

import "errors"

var (
	ErrValidation      = errors.New("validation error")
	ErrNotFound        = errors.New("meeting not found")
	ErrConflict        = errors.New("concurrent update conflict")
	ErrUpstream        = errors.New("upstream error")
	ErrUnauthenticated = errors.New("unauthenticated")
)

// ValidationError reports bad caller input. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
