// Package shared contains error kinds and the DomainError type used across
// all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// Reference data errors
	ErrMissingReference = errors.New("missing reference data")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "scoring", "results", "scores"
	Op      string // Operation that failed, e.g., "SaveTotals"
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

// Is implements errors.Is() matching against both the kind and the cause.
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

// Scoring domain errors
var (
	ErrResultNotFound       = NewDomainError("scoring", "Find", ErrNotFound, "aggregate result not found")
	ErrTestNotFound         = NewDomainError("scoring", "FindTest", ErrNotFound, "test not found")
	ErrStudentNotFound      = NewDomainError("scoring", "FindStudent", ErrMissingReference, "student not found")
	ErrDeadlineMissing      = NewDomainError("scoring", "FindDeadline", ErrMissingReference, "test has no deadline configured")
	ErrDeviationNotComputed = NewDomainError("scoring", "Deviation", ErrNotFound, "deviation has not been computed")
	ErrInvalidGrade         = NewDomainError("scoring", "Validate", ErrValueOutOfRange, "grade must be between 1 and 12")
	ErrScoreAboveGroupMax   = NewDomainError("scoring", "Aggregate", ErrValueOutOfRange, "score exceeds question group max")
	ErrUnknownPeriod        = NewDomainError("scoring", "ParsePeriod", ErrInvalidFormat, "unknown period code")
	ErrUnknownSubject       = NewDomainError("scoring", "ParseSubject", ErrInvalidFormat, "unknown subject code")
	ErrUnknownPartition     = NewDomainError("scoring", "ParsePartition", ErrInvalidFormat, "unknown partition type")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsMissingReference checks if the error is caused by absent reference data
// (a student or deadline the scores point at does not exist).
func IsMissingReference(err error) bool {
	return errors.Is(err, ErrMissingReference)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsContention checks if the error is a transient storage conflict that may
// succeed when the same write is retried.
func IsContention(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
