// Package cdterrors defines the broker's error taxonomy. Every failure that
// crosses the IPC boundary (pkg/wire) carries one of these codes.
package cdterrors

import "fmt"

// Code is a closed enumeration of error codes the core emits (spec §6).
type Code string

const (
	CodeValidationError          Code = "VALIDATION_ERROR"
	CodeSessionNotFound          Code = "SESSION_NOT_FOUND"
	CodeSessionAlreadyRunning    Code = "SESSION_ALREADY_RUNNING"
	CodeContextResolutionFailed  Code = "CONTEXT_RESOLUTION_FAILED"
	CodeContextLockTimeout       Code = "CONTEXT_LOCK_TIMEOUT"
	CodeContextLeaseExpired      Code = "CONTEXT_LEASE_EXPIRED"
	CodeTimeout                  Code = "TIMEOUT"
	CodeDaemonUnavailable        Code = "DAEMON_UNAVAILABLE"
	CodeIPCProtocolError         Code = "IPC_PROTOCOL_ERROR"
	CodeInternalError            Code = "INTERNAL_ERROR"
)

// Error is the typed error carried end to end from a handler to the client.
type Error struct {
	Code        Code
	Message     string
	Details     map[string]any
	Suggestions []string
	Retryable   bool

	// wrapped is the underlying cause, if any. Not serialized directly —
	// callers that need it use errors.Unwrap.
	wrapped error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Is lets errors.Is(err, cdterrors.New(code, "")) match by code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New builds an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error that carries an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, wrapped: cause}
}

// WithDetails attaches structured details and returns the same Error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WithSuggestions attaches human-readable suggestions and returns the same Error.
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	e.Suggestions = suggestions
	return e
}

// WithRetryable marks the error retryable (surfaced as meta.retryable in the envelope).
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsInternal converts any non-taxonomy error into an INTERNAL_ERROR, preserving
// a taxonomy error unchanged. Used at the daemon's handler boundary (spec §4.9).
func AsInternal(err error, op string) *Error {
	if err == nil {
		return nil
	}
	if te, ok := err.(*Error); ok {
		return te
	}
	return &Error{
		Code:    CodeInternalError,
		Message: err.Error(),
		Details: map[string]any{"reason": err.Error(), "op": op},
		Suggestions: []string{
			"retry with a debug flag to capture more detail",
		},
		wrapped: err,
	}
}
