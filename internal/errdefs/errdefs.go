// Package errdefs defines the error taxonomy shared across the server.
// Every failure that crosses a component boundary is one of these kinds,
// so the API layer can map it to a stable wire tag and status code.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and for the HTTP/WebSocket surface.
type Kind string

const (
	// KindNotFound — session, display slot, or command index is absent.
	KindNotFound Kind = "not_found"
	// KindResourceBusy — a port or display number is already taken.
	KindResourceBusy Kind = "resource_busy"
	// KindDependencyMissing — a required external binary is not installed.
	KindDependencyMissing Kind = "dependency_missing"
	// KindProcessStartFailure — a pipeline stage exited during its settle window.
	KindProcessStartFailure Kind = "process_start_failure"
	// KindStreamFault — PTY I/O hit EOF/EIO/EBADF; the connection is dead.
	KindStreamFault Kind = "stream_fault"
)

// Error is a structured error with a stable kind tag and a human-readable
// detail string.
type Error struct {
	Kind   Kind
	Detail string
	Err    error // optional wrapped cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Err)
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind with a wrapped cause.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// NotFound reports a missing session/slot/index.
func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

// ResourceBusy reports a taken port or display number.
func ResourceBusy(format string, args ...any) *Error {
	return New(KindResourceBusy, format, args...)
}

// DependencyMissing reports absent external binaries.
func DependencyMissing(format string, args ...any) *Error {
	return New(KindDependencyMissing, format, args...)
}

// ProcessStartFailure reports a pipeline stage that died while settling.
func ProcessStartFailure(format string, args ...any) *Error {
	return New(KindProcessStartFailure, format, args...)
}

// KindOf returns the kind of err, or "" if err carries no kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
