// Package dErrors provides code-carrying domain errors. Services return these
// so transports can translate them 1:1 into HTTP responses without inspecting
// error strings.
package dErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error code. Codes are part of the API
// contract: clients branch on them, so renaming one is a breaking change.
type Code string

const (
	// Generic codes shared by all features.
	CodeBadRequest         Code = "BAD_REQUEST"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeValidation         Code = "VALIDATION_FAILED"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeForbidden          Code = "FORBIDDEN"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeTimeout            Code = "TIMEOUT"
	CodeUnavailable        Code = "UNAVAILABLE"
	CodeInternal           Code = "INTERNAL"
	CodeInvariantViolation Code = "INVARIANT_VIOLATION"

	// Claim workflow codes. Most of these are expected control flow rather
	// than true failures; handlers map them onto the claim result envelope.
	CodeMissingAnonID        Code = "MISSING_ANON_ID"
	CodeUserAlreadyHasCard   Code = "USER_ALREADY_HAS_CARD"
	CodeNoAnonCard           Code = "NO_ANON_CARD"
	CodeCardAlreadyClaimed   Code = "CARD_ALREADY_CLAIMED"
	CodeMediaMigrationFailed Code = "MEDIA_MIGRATION_FAILED"

	// Trial lifecycle codes.
	CodeTrialExpired Code = "TRIAL_EXPIRED"
	CodeInvalidCard  Code = "INVALID_CARD"
)

// Error is a domain error with a stable code and a human-readable message.
// The wrapped cause, if any, is preserved for errors.Is/As chains.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a domain error with the same code. This lets
// errors.Is work across wrapping layers.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// non-domain errors so transports always have something to translate.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf extracts the human-readable message from err. Non-domain errors
// get a generic message so internals never leak to clients.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Is re-exports errors.Is so call sites using this package don't need a
// second errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

// ToHTTPStatus maps a code onto the HTTP status the transport layer writes.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeBadRequest, CodeInvalidInput, CodeValidation, CodeMissingAnonID, CodeInvalidCard:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeTrialExpired:
		return http.StatusForbidden
	case CodeNotFound, CodeNoAnonCard:
		return http.StatusNotFound
	case CodeConflict, CodeUserAlreadyHasCard, CodeCardAlreadyClaimed:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeMediaMigrationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
