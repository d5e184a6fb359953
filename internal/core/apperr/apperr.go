// Package apperr classifies user-facing failures into a small set of stable
// kinds so handlers can map them to HTTP statuses without leaking internals.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	MissingParameter  Kind = "missing_parameter"
	NotFound          Kind = "not_found"
	InvalidGeometry   Kind = "invalid_geometry"
	SourceUnavailable Kind = "source_unavailable"
	FormulaError      Kind = "formula_error"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is lets errors.Is match two apperr values by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}
