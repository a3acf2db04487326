// Package errors provides structured error types for modeldag.
//
// Every failure the engine can report belongs to one of a small set of
// categories. The categories are exposed as machine-readable [Code] values
// so that an inference driver can decide how to react (restore and abort,
// reject a proposal, report a bad model file) without parsing messages.
//
// # Error Codes
//
//   - TYPE_MISMATCH: a value or node has the wrong shape for its use
//     (retarget compatibility failure, wrong argument types)
//   - INDEX_OUT_OF_RANGE: a reference resolved against a composite value
//     with an index or key it does not contain
//   - INVALID_OPERATION: an operation not permitted in the node's state,
//     such as setting the value of a clamped node
//   - DOMAIN_ERROR: the model-math layer cannot evaluate at the given
//     arguments (log of a negative number, negative standard deviation)
//   - CYCLE, DANGLING_EDGE: structural violations of the graph
//   - NOT_FOUND, INVALID_INPUT, INTERNAL_ERROR: the usual suspects
//
// # Usage
//
//	err := errors.New(errors.ErrCodeInvalidOperation, "node %q is clamped", name)
//	if errors.Is(err, errors.ErrCodeInvalidOperation) {
//	    // reject the proposal
//	}
//
//	// Wrap existing errors
//	err := errors.Wrap(errors.ErrCodeDomain, origErr, "evaluate %s", fn)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

// Error codes for different error categories.
const (
	// Engine errors
	ErrCodeTypeMismatch     Code = "TYPE_MISMATCH"
	ErrCodeIndexOutOfRange  Code = "INDEX_OUT_OF_RANGE"
	ErrCodeInvalidOperation Code = "INVALID_OPERATION"
	ErrCodeDomain           Code = "DOMAIN_ERROR"
	ErrCodeCycle            Code = "CYCLE"
	ErrCodeDanglingEdge     Code = "DANGLING_EDGE"

	// Input validation errors
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeInvalidName   Code = "INVALID_NAME"
	ErrCodeInvalidModel  Code = "INVALID_MODEL"
	ErrCodeInvalidConfig Code = "INVALID_CONFIG"

	// Resource not found errors
	ErrCodeNotFound     Code = "NOT_FOUND"
	ErrCodeFileNotFound Code = "FILE_NOT_FOUND"

	// Internal errors
	ErrCodeInternal    Code = "INTERNAL_ERROR"
	ErrCodeUnsupported Code = "UNSUPPORTED"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
// The outermost *Error decides; codes of wrapped causes are not consulted.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns empty string if the error is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// GetCodeOr extracts the error code from an error, or returns fallback
// if the error carries none.
func GetCodeOr(err error, fallback Code) Code {
	if code := GetCode(err); code != "" {
		return code
	}
	return fallback
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message without the code prefix.
// For other errors, returns the error string as-is.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// Retryable reports whether a failed proposal may simply be rejected
// and the chain continued. Domain errors and out-of-range lookups arise
// from the proposed values and vanish after a restore; everything else
// indicates a broken model or a bug.
func Retryable(err error) bool {
	switch GetCode(err) {
	case ErrCodeDomain, ErrCodeIndexOutOfRange:
		return true
	}
	return false
}
