// Package apperr defines the coded errors shared by the ledger, its stores
// and the transports in front of them.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code classifies an error for callers and transports.
type Code string

const (
	CodeConstraintViolation  Code = "constraint_violation"
	CodeReferentialViolation Code = "referential_violation"
	CodeStoreUnavailable     Code = "store_unavailable"
	CodeNotFound             Code = "not_found"
	CodePartialFailure       Code = "partial_failure"
	CodeInvalidArgument      Code = "invalid_argument"
	CodeInternal             Code = "internal"
)

// HTTPStatus maps a code onto the status the HTTP API answers with.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeConstraintViolation:
		return http.StatusConflict
	case CodeReferentialViolation:
		return http.StatusUnprocessableEntity
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Error is a coded error with optional structured metadata.
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error carrying the same code, so callers can compare
// against a bare New(code, "").
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New returns an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf is New with fmt formatting.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to cause. A nil cause yields nil.
func Wrap(code Code, message string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithMetadata returns a copy of e with key set to value.
func (e *Error) WithMetadata(key, value string) *Error {
	md := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md[key] = value
	out := *e
	out.Metadata = md
	return &out
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether any *Error in err's chain carries code.
func HasCode(err error, code Code) bool {
	return errors.Is(err, &Error{Code: code})
}

// MetadataOf returns a copy of the metadata of the outermost *Error.
func MetadataOf(err error) map[string]string {
	var e *Error
	if !errors.As(err, &e) || len(e.Metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		out[k] = v
	}
	return out
}

// MessageOf returns the message of the outermost *Error, falling back to
// err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}
