// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
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
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrLimitExceeded    = errors.New("limit exceeded")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// External service errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "quiz", "session", "progress"
	Op      string // Operation that failed, e.g., "Load", "Submit"
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

// Is implements errors.Is() matching. Two DomainErrors match when they carry
// the same domain, operation and message, so a wrapped sentinel still
// satisfies errors.Is(err, ErrStaleAnswer).
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok {
		return e.Domain == t.Domain && e.Op == t.Op && e.Message == t.Message
	}
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

// Question bank errors
var (
	ErrEmptyBank       = NewDomainError("quiz", "Load", ErrInvalidInput, "no valid questions in source")
	ErrMissingColumn   = NewDomainError("quiz", "ResolveColumns", ErrInvalidFormat, "required column is missing")
	ErrAmbiguousColumn = NewDomainError("quiz", "ResolveColumns", ErrInvalidFormat, "column is mapped more than once")
	ErrInvalidQuestion = NewDomainError("quiz", "NewQuestion", ErrValidation, "invalid question")
	ErrBankNotFound    = NewDomainError("quiz", "FindBank", ErrNotFound, "question bank not found")
)

// Session errors
var (
	ErrSessionNotFound      = NewDomainError("session", "Find", ErrNotFound, "session not found")
	ErrSessionFinished      = NewDomainError("session", "Transition", ErrInvalidState, "session is finished")
	ErrStaleAnswer          = NewDomainError("session", "Submit", ErrAlreadyProcessed, "question already resolved")
	ErrUnknownQuestion      = NewDomainError("session", "Submit", ErrNotFound, "question is not part of this session")
	ErrOutOfOrder           = NewDomainError("session", "Submit", ErrStateTransition, "question is not the current one")
	ErrSessionAlreadyActive = NewDomainError("session", "Start", ErrAlreadyExists, "an attempt is already in progress")
	ErrMaxAttemptsReached   = NewDomainError("session", "Start", ErrLimitExceeded, "maximum attempts reached")
)

// Progress errors
var (
	ErrProgressNotFound = NewDomainError("progress", "Get", ErrNotFound, "no progress recorded")
	ErrProgressConflict = NewDomainError("progress", "Update", ErrConcurrentModification, "progress record changed concurrently")
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
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsRejectedTransition reports whether err is an expected rejection of a
// session action: a finished session, a stale or out-of-order answer, a
// second active attempt or an exhausted attempt budget. The session state is
// left untouched in every case.
func IsRejectedTransition(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrStateTransition) ||
		errors.Is(err, ErrSessionAlreadyActive) ||
		errors.Is(err, ErrLimitExceeded)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
