// Package domainerrors carries coded errors across service boundaries so
// handlers and callers can branch on the kind of failure without string
// matching. Stores return sentinel errors (pkg/platform/sentinel); services
// translate them into coded errors here.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code classifies an error for callers. The transport layer maps codes to
// HTTP statuses; the lifecycle engine maps them to retry decisions.
type Code string

const (
	// Caller-side input problems. Never auto-retried.
	CodeBadRequest   Code = "bad_request"
	CodeInvalidField Code = "invalid_field"
	CodeAssembly     Code = "assembly"
	CodeValidation   Code = "validation"

	// Credential and crypto failures. Operator-visible, fatal for the attempt.
	CodeSigning      Code = "signing"
	CodeUnauthorized Code = "unauthorized"

	// Authority-side terminal rejection, surfaced with the authority reason.
	CodeRejected Code = "rejected"

	// Infrastructure-side conditions, retried up to policy then escalated.
	CodeTransmissionExhausted Code = "transmission_exhausted"
	CodeStatusUnresolved      Code = "status_unresolved"
	CodeUnavailable           Code = "unavailable"

	// Invariant violations. Always a programming or race bug, never swallowed.
	CodeDuplicateSubmission  Code = "duplicate_submission"
	CodeConcurrentTransition Code = "concurrent_transition"
	CodeInvariantViolation   Code = "invariant_violation"

	CodeNotFound Code = "not_found"
	CodeConflict Code = "conflict"
	CodeInternal Code = "internal"
)

// Error is a coded error with an optional wrapped cause.
type Error struct {
	ErrCode Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.ErrCode, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.ErrCode, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a coded error with a caller-facing message.
func New(code Code, message string) error {
	return &Error{ErrCode: code, Message: message}
}

// Newf builds a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{ErrCode: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error, preserving the
// cause for errors.Is/As chains.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{ErrCode: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.ErrCode == code {
			return true
		}
		err = de.cause
		if err == nil {
			return false
		}
	}
	return false
}

// CodeOf returns the outermost code in the chain, or CodeInternal when the
// error carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.ErrCode
	}
	return CodeInternal
}
