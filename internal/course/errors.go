package course

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation failed")
	ErrUnauthorized         = errors.New("unauthorized scope")
	ErrConflict             = errors.New("concurrency conflict")
	ErrAttemptLimitExceeded = errors.New("attempt limit exceeded")
	ErrAttemptInProgress    = errors.New("attempt already in progress")
	ErrInvalidAttemptState  = errors.New("invalid attempt state")
	ErrDependencyExists     = errors.New("learner records reference item")
	ErrLocked               = errors.New("item is locked")
	ErrStorage              = errors.New("storage failure")

	// ErrAttemptExpired is returned when answers arrive after the time limit.
	ErrAttemptExpired = fmt.Errorf("%w: time limit elapsed", ErrInvalidAttemptState)
)

// ValidationError describes a rejected input. It matches ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StorageError wraps an unexpected persistence failure. It matches ErrStorage.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// NotFound reports a missing record of the given kind.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}
