package backend

import (
	"errors"
	"strings"
)

// Kind classifies a backend failure. Every failure that crosses the bridge
// carries exactly one kind.
type Kind string

const (
	KindConnectionUnavailable Kind = "connection_unavailable"
	KindImageNotFound         Kind = "image_not_found"
	KindContainerConflict     Kind = "container_conflict"
	KindContainerNotFound     Kind = "container_not_found"
	KindEngineProtocol        Kind = "engine_protocol_error"
	KindNetworkConfigMissing  Kind = "network_config_missing"
	KindTimeout               Kind = "timeout"
	KindCompile               Kind = "compile_error"
	KindInstantiate           Kind = "instantiate_error"
	KindTrap                  Kind = "trap_error"
	KindAction                Kind = "action_error"
	KindResourceUnavailable   Kind = "resource_unavailable"
	KindInternalDispatch      Kind = "internal_dispatch_error"
	KindInvalidRequest        Kind = "invalid_request"
)

// Error is the structured error returned by backends.
type Error struct {
	Kind Kind
	// StatusCode is the engine or action HTTP status, when one exists.
	StatusCode int
	Message    string
	// Output holds captured diagnostic bytes (stderr of a trapped module,
	// body of a failed action).
	Output []byte
	Cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternalDispatch when err carries none.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternalDispatch
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// AsError converts err into an *Error, wrapping untyped errors as internal
// dispatch failures.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}
	return &Error{Kind: KindInternalDispatch, Message: err.Error(), Cause: err}
}
