package caseflow

import (
	"errors"
	"fmt"
	"strings"
)

// Error type constants for classification and matching
const (
	// ErrorTypeOracle indicates a malformed or unparseable decision response.
	// Oracle errors are mapped to the "error" action and never abort a run.
	ErrorTypeOracle = "oracle_error"

	// ErrorTypePrecondition indicates an executor's required input is absent.
	// The executor fails without mutating derived state and the engine
	// re-decides.
	ErrorTypePrecondition = "precondition_error"

	// ErrorTypePersistence indicates a storage transaction failure. These are
	// not locally recoverable and propagate to the caller of Run, leaving the
	// case at its last committed checkpoint.
	ErrorTypePersistence = "persistence_error"

	// ErrorTypeLoopGuard indicates the step-count ceiling was reached and the
	// run was forced to a terminal state.
	ErrorTypeLoopGuard = "loop_guard_tripped"

	// ErrorTypeExecutor is the default classification for executor failures
	// that are not one of the above. They are recoverable: the machine can
	// re-decide.
	ErrorTypeExecutor = "executor_error"
)

// Error is a structured workflow error with a classification type. It
// supports Go's error wrapping patterns with an Unwrap() method.
type Error struct {
	Type    string   `json:"type"`
	Cause   string   `json:"cause"`
	Missing []string `json:"missing,omitempty"` // field names, for precondition errors
	Wrapped error    `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Cause)
}

// Unwrap implements the error unwrapping interface for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// NewPreconditionError creates an error indicating that the named input
// fields are absent.
func NewPreconditionError(cause string, missing ...string) *Error {
	return &Error{Type: ErrorTypePrecondition, Cause: cause, Missing: missing}
}

// NewOracleError creates an error describing an invalid oracle response.
func NewOracleError(cause string) *Error {
	return &Error{Type: ErrorTypeOracle, Cause: cause}
}

// NewPersistenceError wraps a storage failure.
func NewPersistenceError(err error) *Error {
	return &Error{Type: ErrorTypePersistence, Cause: err.Error(), Wrapped: err}
}

// NewLoopGuardError creates an error describing a tripped loop guard.
func NewLoopGuardError(cause string) *Error {
	return &Error{Type: ErrorTypeLoopGuard, Cause: cause}
}

// ClassifyError attempts to classify a regular error into an *Error
func ClassifyError(err error) *Error {
	var werr *Error
	if errors.As(err, &werr) {
		return werr
	}
	if strings.Contains(strings.ToLower(err.Error()), "database") {
		return &Error{Type: ErrorTypePersistence, Cause: err.Error(), Wrapped: err}
	}
	// Default to a recoverable executor error
	return &Error{Type: ErrorTypeExecutor, Cause: err.Error(), Wrapped: err}
}

// IsRecoverable reports whether the engine may continue the decide loop after
// this error. Persistence errors are the only non-recoverable class.
func IsRecoverable(err error) bool {
	return ClassifyError(err).Type != ErrorTypePersistence
}

// MatchesErrorType checks if an error matches a specified error type
func MatchesErrorType(err error, errorType string) bool {
	return ClassifyError(err).Type == errorType
}
