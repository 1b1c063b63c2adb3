// Package apperror defines the coded error taxonomy shared by the server and the sync client.
package apperror

import (
	"errors"
	"fmt"
)

// Error is a taxonomy error identified by a stable wire code.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// Is lets InvalidCapacity match InvalidInput, of which it is a refinement.
func (e *Error) Is(target error) bool {
	return e == ErrInvalidCapacity && target == ErrInvalidInput
}

var (
	ErrInvalidInput     = &Error{Code: "INVALID_INPUT", Message: "invalid input"}
	ErrInvalidCapacity  = &Error{Code: "INVALID_CAPACITY", Message: "capacity must be at least 1"}
	ErrDuplicateDate    = &Error{Code: "DUPLICATE_DATE", Message: "a service already exists for this date"}
	ErrDuplicateName    = &Error{Code: "DUPLICATE_NAME", Message: "this name is already registered for the service"}
	ErrCapacityExceeded = &Error{Code: "CAPACITY_EXCEEDED", Message: "no seats left for this service"}
	ErrNotFound         = &Error{Code: "NOT_FOUND", Message: "not found"}
	ErrUnauthorized     = &Error{Code: "UNAUTHORIZED", Message: "unauthorized"}
	ErrForbidden        = &Error{Code: "FORBIDDEN", Message: "forbidden"}
	ErrConnectionFailed = &Error{Code: "CONNECTION_FAILED", Message: "connection failed"}
)

var byCode = map[string]*Error{}

func init() {
	for _, e := range []*Error{
		ErrInvalidInput, ErrInvalidCapacity, ErrDuplicateDate, ErrDuplicateName,
		ErrCapacityExceeded, ErrNotFound, ErrUnauthorized, ErrForbidden, ErrConnectionFailed,
	} {
		byCode[e.Code] = e
	}
}

// FromCode returns the taxonomy error for a wire code, or nil if the code is unknown.
func FromCode(code string) *Error {
	return byCode[code]
}

// Code returns the wire code of the taxonomy error in err's chain, or "" if there is none.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

type detailed struct {
	base *Error
	msg  string
}

func (d *detailed) Error() string { return d.msg }
func (d *detailed) Unwrap() error { return d.base }

// Newf returns an error with a specific message that still matches base via errors.Is.
func Newf(base *Error, format string, args ...interface{}) error {
	return &detailed{base: base, msg: fmt.Sprintf(format, args...)}
}
