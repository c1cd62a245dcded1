// Package apierr defines the error taxonomy shared by every layer that talks
// to a media server. Callers above the REST layer never see raw transport
// errors; they see an *Error whose Kind tells them whether to retry,
// re-authenticate, or give up.
package apierr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// ConnectionFailure is a transient network error. Retry with backoff.
	ConnectionFailure Kind = iota + 1
	// Timeout is a request or wait that ran out of time.
	Timeout
	// Unauthorized is HTTP 401. Re-authenticate once.
	Unauthorized
	// Forbidden is HTTP 403.
	Forbidden
	// NotFound is HTTP 404.
	NotFound
	// RequestFailure is any other non-2xx response.
	RequestFailure
	// ServerMismatch means the configured address now answers with a
	// different server identity than the one pinned on the connection.
	ServerMismatch
	// PermissionDenied means no usable administrator account exists.
	PermissionDenied
)

var kindNames = map[Kind]string{
	ConnectionFailure: "connection failure",
	Timeout:           "timeout",
	Unauthorized:      "unauthorized",
	Forbidden:         "forbidden",
	NotFound:          "not found",
	RequestFailure:    "request failure",
	ServerMismatch:    "server mismatch",
	PermissionDenied:  "permission denied",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrConnectionFailure = &Error{Kind: ConnectionFailure}
	ErrTimeout           = &Error{Kind: Timeout}
	ErrUnauthorized      = &Error{Kind: Unauthorized}
	ErrForbidden         = &Error{Kind: Forbidden}
	ErrNotFound          = &Error{Kind: NotFound}
	ErrRequestFailure    = &Error{Kind: RequestFailure}
	ErrServerMismatch    = &Error{Kind: ServerMismatch}
	ErrPermissionDenied  = &Error{Kind: PermissionDenied}
)

// Error is a classified failure of one operation.
type Error struct {
	Kind   Kind
	Op     string // Operation that failed, e.g. "GET /Sessions".
	Status int    // HTTP status, zero when no response was received.
	Body   string // Response body excerpt, if any.
	Err    error  // Underlying cause.
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an *Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromStatus maps an HTTP status to an *Error. It returns nil for 2xx.
func FromStatus(op string, status int, body string) error {
	if status >= 200 && status < 300 {
		return nil
	}

	kind := RequestFailure
	switch status {
	case 401:
		kind = Unauthorized
	case 403:
		kind = Forbidden
	case 404:
		kind = NotFound
	}

	return &Error{Kind: kind, Op: op, Status: status, Body: body}
}

// KindOf returns the Kind of the first *Error in err's chain, or zero.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// fatalError marks its cause as non-retryable.
type fatalError struct {
	err error
}

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

// Fatal marks err as non-retryable. Fatal(nil) is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err must end a reconnect loop: it was marked with
// Fatal, or it is a ServerMismatch or PermissionDenied.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var f *fatalError
	if errors.As(err, &f) {
		return true
	}
	switch KindOf(err) {
	case ServerMismatch, PermissionDenied:
		return true
	}
	return false
}

// IsTransient reports whether err is worth retrying after a delay.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case ConnectionFailure, Timeout:
		return true
	}
	return false
}
