// Package apperrors defines the coded error vocabulary shared by every layer
// of the approvals engine. Each error carries a machine-readable code and a
// human-readable message; handlers map codes to HTTP statuses and audit
// records persist them verbatim.
package apperrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers and the audit trail.
type Code string

const (
	CodeValidation   Code = "VALIDATION"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeNotFound     Code = "NOT_FOUND"
	CodeState        Code = "STATE"
	CodeConcurrency  Code = "CONCURRENCY"
	CodeTolerance    Code = "TOLERANCE"
	CodeIntegration  Code = "INTEGRATION"
	CodeInternal     Code = "INTERNAL"

	// Workflow-specific refinements of the base taxonomy.
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodePolicyNotFound    Code = "POLICY_NOT_FOUND"
	CodeNoUniquePolicy    Code = "NO_UNIQUE_POLICY"
	CodeDuplicateDecision Code = "DUPLICATE_DECISION"
	CodeRequestClosed     Code = "REQUEST_CLOSED"
)

// Error is a coded error. It wraps an optional cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return Newf(CodeNotFound, "%s %q not found", resource, id)
}

// InvalidInput reports a malformed or missing request field.
func InvalidInput(field, message string) *Error {
	return Newf(CodeValidation, "invalid %s: %s", field, message)
}

// CodeOf returns the code of the outermost coded error in err's chain,
// or CodeInternal when err carries no code.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether err's chain contains a coded error with code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
