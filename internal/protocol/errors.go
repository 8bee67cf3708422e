package protocol

import (
	"errors"
	"fmt"
)

// Error codes surfaced to clients in {error:{code,message}} frames.
const (
	CodeAuthFailed    = "AUTH_FAILED"    // bad token or name conflict; non-retryable
	CodeLocked        = "LOCKED"         // task not available; retry after lock expiry
	CodeClaimConflict = "CLAIM_CONFLICT" // won the lock but lost the claim race
	CodeConflict      = "CONFLICT"       // edit conflict; conflicting edits attached
	CodeNotFound      = "NOT_FOUND"      // task/agent/memory key missing
	CodeForbidden     = "FORBIDDEN"      // status update by non-owner
	CodeIntervention  = "INTERVENTION"   // diversity check rejected in strict mode
	CodeSlowConsumer  = "SLOW_CONSUMER"  // outbound queue overflow; connection closed
	CodeInternal      = "INTERNAL"       // unexpected condition; details stay server-side
)

// Error is a domain error carrying a wire code. The hub boundary translates
// these into error frames; anything else is logged and reported as INTERNAL.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a domain error with a client-safe message.
func NewError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the wire code from err, or INTERNAL when err is not a
// domain error.
func CodeOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternal
}

// AsError returns the domain error inside err, or an INTERNAL placeholder
// whose message never leaks the underlying error text to clients.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Code: CodeInternal, Message: "internal server error"}
}
