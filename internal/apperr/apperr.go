// Package apperr defines the error taxonomy shared by every layer of
// the service, per spec §7. Core packages return these directly; only
// httpapi maps them onto HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds from the taxonomy, not a type name.
type Kind string

const (
	BadRequest          Kind = "bad_request"
	Unauthenticated     Kind = "unauthenticated"
	Forbidden           Kind = "forbidden"
	NotFound            Kind = "not_found"
	Duplicate           Kind = "duplicate"
	UpstreamUnavailable Kind = "upstream_unavailable"
	UnsupportedInterval Kind = "unsupported_interval"
	Internal            Kind = "internal"
)

// Error wraps a Kind with a human-readable detail and an optional cause.
type Error struct {
	Kind   Kind
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap builds an *Error of the given kind around an existing cause.
func Wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// KindOf extracts the Kind from err, defaulting to Internal for errors
// that were never classified (a bug, by this taxonomy's own rule).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
