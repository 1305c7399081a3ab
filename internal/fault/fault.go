// Package fault defines the error taxonomy shared by the fulfillment engine.
//
// Every failure the engine surfaces carries a Kind so callers can branch on
// errors.Is against the sentinel values below instead of matching strings.
// Validation kinds (MalformedCode, CodeMismatch, InvalidTransition) are raised
// before any network call is made; NetworkFailure and ServerRejected come back
// from the backend; AlreadyCompleted is reported by the backend but treated as
// success by the completion path.
package fault

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable failure class.
type Kind string

const (
	KindUnknown           Kind = "UNKNOWN"
	KindNetworkFailure    Kind = "NETWORK_FAILURE"
	KindMalformedCode     Kind = "MALFORMED_CODE"
	KindCodeMismatch      Kind = "CODE_MISMATCH"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindAlreadyCompleted  Kind = "ALREADY_COMPLETED"
	KindServerRejected    Kind = "SERVER_REJECTED"
	KindDecodeError       Kind = "DECODE_ERROR"
	KindCancelled         Kind = "CANCELLED"
)

// Retryable reports whether a later attempt of the same call may succeed.
func (k Kind) Retryable() bool {
	return k == KindNetworkFailure
}

// UserCorrectable reports whether the failure is a client-side validation
// failure the seller can fix by rescanning or picking another order.
func (k Kind) UserCorrectable() bool {
	switch k {
	case KindMalformedCode, KindCodeMismatch, KindInvalidTransition:
		return true
	}
	return false
}

// Error is the engine's error type.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message + ": " + e.Cause.Error()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target has the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels for errors.Is comparisons.
var (
	ErrNetworkFailure    = &Error{Kind: KindNetworkFailure, Message: "network failure"}
	ErrMalformedCode     = &Error{Kind: KindMalformedCode, Message: "malformed pickup code"}
	ErrCodeMismatch      = &Error{Kind: KindCodeMismatch, Message: "pickup code does not match order"}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Message: "invalid order transition"}
	ErrAlreadyCompleted  = &Error{Kind: KindAlreadyCompleted, Message: "order already completed"}
	ErrServerRejected    = &Error{Kind: KindServerRejected, Message: "rejected by server"}
	ErrDecode            = &Error{Kind: KindDecodeError, Message: "decode response"}
	ErrCancelled         = &Error{Kind: KindCancelled, Message: "cancelled"}
)

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}
