// Package errors carries coded errors across service boundaries. The API
// layer maps the code onto an HTTP status; everything below it only ever
// creates, wraps and converts.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code classifies an error. The values reuse the grpc code space so the
// classification stays stable no matter which transport surfaces it.
type Code codes.Code

const (
	CodeInvalidArgument = Code(codes.InvalidArgument)
	CodeNotFound        = Code(codes.NotFound)
	CodeAlreadyExists   = Code(codes.AlreadyExists)
	CodeInternal        = Code(codes.Internal)
	CodeUnauthenticated = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument: http.StatusBadRequest,
	CodeNotFound:        http.StatusNotFound,
	CodeAlreadyExists:   http.StatusConflict,
	CodeInternal:        http.StatusInternalServerError,
	CodeUnauthenticated: http.StatusUnauthorized,
}

// Error is a coded error. Message is safe to hand to clients; the wrapped
// cause is not and stays server-side.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}
	for _, opt := range opts {
		opt.apply(e)
	}
	return e
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s (code %d): %v", e.Message, e.Code, e.err)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

func (e *Error) Unwrap() error {
	return e.err
}

// HTTPStatusCode maps the code onto an HTTP status. Unmapped codes are
// treated as internal.
func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}
	return http.StatusInternalServerError
}

// Convert extracts the coded error from err's chain, or classifies err as
// internal when there is none.
func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}
	return e
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

// WithCause attaches the underlying error without exposing it in Message.
func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

// WithMessagef replaces the default code-derived message.
func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
