package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so the pipeline can decide retry or abort.
type ErrorKind string

const (
	KindConfig          ErrorKind = "config"
	KindTransient       ErrorKind = "transient"
	KindExtractionEmpty ErrorKind = "extraction_empty"
	KindDelivery        ErrorKind = "delivery"
	KindFatal           ErrorKind = "fatal"
)

// Error is a classified error.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// NewError builds a classified error wrapping cause (which may be nil).
func NewError(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first classified error in err's chain,
// or KindFatal when none is present.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindFatal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}
