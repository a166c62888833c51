// Package errkind names the error taxonomy shared across the daemon:
// ConfigError, DiscoveryError, DataplaneError, VersionConflict, and
// TagParseError. These are kinds, not a type hierarchy — each wraps a
// cause via github.com/pkg/errors and carries the structured fields the
// call site logs with logrus.
package errkind

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Kind identifies which taxonomy bucket an error belongs to.
type Kind string

const (
	Config          Kind = "config"
	Discovery       Kind = "discovery"
	Dataplane       Kind = "dataplane"
	VersionConflict Kind = "version_conflict"
	TagParse        Kind = "tag_parse"
)

// Error carries a Kind plus the fields worth logging alongside it.
type Error struct {
	Kind    Kind
	Service string
	Backend string
	Attempt int
	cause   error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.cause.Error()
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New wraps cause with the given kind and message.
func New(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, cause: errors.Wrap(cause, msg)}
}

// WithService annotates the error with the service name it occurred for.
func (e *Error) WithService(name string) *Error {
	e.Service = name
	return e
}

// WithBackend annotates the error with the backend name it occurred for.
func (e *Error) WithBackend(name string) *Error {
	e.Backend = name
	return e
}

// WithAttempt annotates the error with the retry attempt number.
func (e *Error) WithAttempt(n int) *Error {
	e.Attempt = n
	return e
}

// Is reports whether err (or anything it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.Kind == k
}
