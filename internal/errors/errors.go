// Package errors provides custom error types for replica synchronization.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotFound            = errors.New("not found")
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrValidation          = errors.New("validation failed")
	ErrPersistence         = errors.New("persistence failed")
	ErrAwaitingPolicy      = errors.New("conflicts require a resolution policy")
	ErrOwnerImmutable      = errors.New("position owner cannot change")
	ErrOriginalImmutable   = errors.New("replica original id cannot change")
	ErrConfigInvalid       = errors.New("invalid configuration")
)

// Kind classifies a sync failure.
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindAuthorizationDenied Kind = "AuthorizationDenied"
	KindValidation          Kind = "ValidationError"
	KindPersistence         Kind = "PersistenceError"
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindAuthorizationDenied:
		return ErrAuthorizationDenied
	case KindValidation:
		return ErrValidation
	case KindPersistence:
		return ErrPersistence
	}
	return nil
}

// Retryable reports whether re-invoking the failed operation may succeed.
func (k Kind) Retryable() bool {
	return k == KindPersistence
}

// SyncError is the typed failure returned by the sync orchestrator and the
// position service.
type SyncError struct {
	Kind       Kind
	Op         string
	ReplicaID  string
	PositionID string
	Err        error
}

func (e *SyncError) Error() string {
	target := e.PositionID
	if e.ReplicaID != "" {
		target = e.ReplicaID
	}
	if e.Err != nil {
		return fmt.Sprintf("%s [%s] %s: %v", e.Kind, e.Op, target, e.Err)
	}
	return fmt.Sprintf("%s [%s] %s", e.Kind, e.Op, target)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the failure kind, so callers can write
// errors.Is(err, ErrNotFound) regardless of the wrapped cause.
func (e *SyncError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// NewSyncError creates a new SyncError.
func NewSyncError(kind Kind, op, replicaID, positionID string, err error) *SyncError {
	return &SyncError{
		Kind:       kind,
		Op:         op,
		ReplicaID:  replicaID,
		PositionID: positionID,
		Err:        err,
	}
}

// KindOf returns the kind of a sync failure, or "" when err carries none.
func KindOf(err error) Kind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAuthorizationDenied):
		return KindAuthorizationDenied
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrPersistence):
		return KindPersistence
	}
	return ""
}

// IsRetryable reports whether err is a failure worth retrying.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
