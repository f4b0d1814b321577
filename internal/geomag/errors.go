package geomag

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so the transport layer can pick a status without
// inspecting internal state.
type Kind string

const (
	KindInvalidQuery        Kind = "invalid_query"
	KindNotFound            Kind = "not_found"
	KindUpstreamTimeout     Kind = "upstream_timeout"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInvalidResponse     Kind = "invalid_response"
	KindEmptySeries         Kind = "empty_series"
)

// Error is the error type returned by every core operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

var (
	// Sentinels for errors.Is; they match any *Error of the same Kind.
	ErrInvalidQuery        = &Error{Kind: KindInvalidQuery}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrUpstreamTimeout     = &Error{Kind: KindUpstreamTimeout}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrInvalidResponse     = &Error{Kind: KindInvalidResponse}
	ErrEmptySeries         = &Error{Kind: KindEmptySeries}
)

// NewError builds an *Error with a formatted message.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds an *Error that keeps cause in the chain.
func WrapError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or "" when err is not a core error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// MessageOf returns the human-readable part of a core error.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
