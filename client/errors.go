package client

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies execution failures.
type ErrorKind string

const (
	// KindRequestFailed is a non-2xx upstream response.
	KindRequestFailed ErrorKind = "REQUEST_FAILED"
	// KindTransport covers network failures and malformed success bodies.
	KindTransport ErrorKind = "TRANSPORT"
	// KindJSON is a failure to encode the request body.
	KindJSON ErrorKind = "JSON"
	// KindFile is a missing or unreadable upload file.
	KindFile ErrorKind = "FILE"
	// KindOperation is a request that could not be built from the arguments.
	KindOperation ErrorKind = "OPERATION"
)

// Error is returned by Client.Execute.
type Error struct {
	Kind    ErrorKind   `json:"kind"`
	Message string      `json:"message"`
	Status  int         `json:"status,omitempty"`
	Data    any         `json:"data,omitempty"`
	Headers http.Header `json:"-"`
	Cause   error       `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the error kind, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRequestFailed reports whether err is an upstream non-2xx response.
func IsRequestFailed(err error) bool {
	return KindOf(err) == KindRequestFailed
}
