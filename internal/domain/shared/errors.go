// Package shared contains common domain types and errors used across all
// domain packages. This package has no infrastructure dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// ErrNotFound marks a referenced entity that does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrValidation marks input that violates a precondition.
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// ErrPersistence marks a failure of the underlying store.
	ErrPersistence = errors.New("persistence error")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "analytics", "course"
	Op      string // Operation that failed, e.g., "RecordProgress"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Persistence wraps a store failure. Nil in, nil out.
func Persistence(domain, op string, err error) error {
	if err == nil {
		return nil
	}
	return WrapError(domain, op, ErrPersistence, "store operation failed", err)
}

// Validation builds a validation error with a formatted message.
func Validation(domain, op, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, ErrValidation, fmt.Sprintf(format, args...))
}

// Progress domain errors
var (
	ErrLectureNotFound = NewDomainError("progress", "ResolveLecture", ErrNotFound, "lecture not found")
	ErrNegativeWatch   = NewDomainError("progress", "Validate", ErrNegativeValue, "duration watched cannot be negative")
	ErrInvalidPercent  = NewDomainError("progress", "Validate", ErrValueOutOfRange, "progress percent must be a finite number")
)

// Analytics domain errors
var (
	ErrCourseNotFound        = NewDomainError("course", "Find", ErrNotFound, "course not found")
	ErrInvalidCourseID       = NewDomainError("analytics", "Validate", ErrInvalidID, "course id must be positive")
	ErrMalformedSnapshot     = NewDomainError("analytics", "DecodeSnapshot", ErrInvalidFormat, "malformed demographics snapshot")
	ErrInvalidEngagementType = NewDomainError("analytics", "Validate", ErrInvalidInput, "unknown engagement type")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsPersistence checks if the error came from the store.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}
