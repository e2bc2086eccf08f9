// Package apperr defines the typed error kinds surfaced by the workflow engine.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a machine-readable error category with a stable outward status.
type Kind string

const (
	KindIllegalTransition      Kind = "ILLEGAL_TRANSITION"
	KindInvalidState           Kind = "INVALID_STATE"
	KindForbidden              Kind = "FORBIDDEN"
	KindNotFound               Kind = "NOT_FOUND"
	KindRevisionLimitExceeded  Kind = "REVISION_LIMIT_EXCEEDED"
	KindConcurrentModification Kind = "CONCURRENT_MODIFICATION"
	KindGatewayFailure         Kind = "GATEWAY_FAILURE"
	KindInvalidArgument        Kind = "INVALID_ARGUMENT"
)

// HTTPStatus maps a kind to the status an HTTP caller receives.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindIllegalTransition, KindConcurrentModification:
		return http.StatusConflict
	case KindInvalidState, KindRevisionLimitExceeded:
		return http.StatusUnprocessableEntity
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindGatewayFailure:
		return http.StatusBadGateway
	case KindInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Retriable reports whether re-reading and re-attempting may succeed.
func (k Kind) Retriable() bool {
	return k == KindConcurrentModification
}

// Guidance is the user-facing hint a UI renders for the kind.
func (k Kind) Guidance() string {
	switch k {
	case KindIllegalTransition:
		return "This action is not available in the project's current stage."
	case KindInvalidState:
		return "The project is not ready for this action yet."
	case KindForbidden:
		return "You are not allowed to perform this action on this project."
	case KindNotFound:
		return "The project or iteration could not be found."
	case KindRevisionLimitExceeded:
		return "The revision limit has been reached; contact support to escalate."
	case KindConcurrentModification:
		return "The project was changed by someone else; reload and try again."
	case KindGatewayFailure:
		return "The payment provider did not confirm the operation; nothing was changed."
	case KindInvalidArgument:
		return "Some of the submitted values are invalid."
	default:
		return "Unexpected error."
	}
}

// Error is the engine's error type.
type Error struct {
	Kind     Kind
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same kind, so sentinels such as
// ErrNotFound work with errors.Is.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Kind sentinels for errors.Is.
var (
	ErrIllegalTransition      = &Error{Kind: KindIllegalTransition, Message: "illegal transition"}
	ErrInvalidState           = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrForbidden              = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrNotFound               = &Error{Kind: KindNotFound, Message: "not found"}
	ErrRevisionLimitExceeded  = &Error{Kind: KindRevisionLimitExceeded, Message: "revision limit exceeded"}
	ErrConcurrentModification = &Error{Kind: KindConcurrentModification, Message: "concurrent modification"}
	ErrGatewayFailure         = &Error{Kind: KindGatewayFailure, Message: "gateway failure"}
	ErrInvalidArgument        = &Error{Kind: KindInvalidArgument, Message: "invalid argument"}
)

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WithMetadata(kind Kind, message string, metadata map[string]string) *Error {
	return &Error{Kind: kind, Message: message, Metadata: metadata}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// IllegalTransition names the current state and the attempted action or state.
func IllegalTransition(current, attempted string) *Error {
	return WithMetadata(KindIllegalTransition,
		fmt.Sprintf("illegal transition: %s from %s", attempted, current),
		map[string]string{"current": current, "attempted": attempted})
}

func InvalidState(format string, args ...any) *Error {
	return New(KindInvalidState, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return New(KindForbidden, format, args...)
}

func NotFound(entity, id string) *Error {
	return WithMetadata(KindNotFound, fmt.Sprintf("%s %s not found", entity, id),
		map[string]string{"entity": entity, "id": id})
}

func InvalidArgument(format string, args ...any) *Error {
	return New(KindInvalidArgument, format, args...)
}

// KindOf extracts the kind of err, or "" when err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
