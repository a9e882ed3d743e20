// Package apperr defines the error taxonomy shared by every layer. Kinds are
// matched with errors.Is; handlers map them to transport codes, background
// loops use them to decide between retry, quarantine and abort.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindValidation
	KindRateLimited
	KindConflictCAS
	KindDurableStoreUnavailable
	KindLogUnavailable
	KindGridUnavailable
	KindSerializationPoison
	KindProcessingFailure
	KindFatal
)

// Sentinels for errors.Is matching.
var (
	ErrNotFound                = &Error{kind: KindNotFound, msg: "not found"}
	ErrValidation              = &Error{kind: KindValidation, msg: "validation failed"}
	ErrRateLimited             = &Error{kind: KindRateLimited, msg: "rate limited"}
	ErrConflictCAS             = &Error{kind: KindConflictCAS, msg: "compare-and-set conflict"}
	ErrDurableStoreUnavailable = &Error{kind: KindDurableStoreUnavailable, msg: "durable store unavailable"}
	ErrLogUnavailable          = &Error{kind: KindLogUnavailable, msg: "log unavailable"}
	ErrGridUnavailable         = &Error{kind: KindGridUnavailable, msg: "grid unavailable"}
	ErrSerializationPoison     = &Error{kind: KindSerializationPoison, msg: "serialization poison"}
	ErrProcessingFailure       = &Error{kind: KindProcessingFailure, msg: "processing failure"}
	ErrFatal                   = &Error{kind: KindFatal, msg: "fatal"}
)

type Error struct {
	kind  Kind
	msg   string
	cause error
}

func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{kind: kind, msg: msg, cause: cause}
}

func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error of the same kind, so wrapped taxonomy errors compare
// against the sentinels above.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.kind == t.kind
}

// KindOf extracts the taxonomy kind, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// Retryable reports whether the failure class is worth another attempt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindConflictCAS, KindDurableStoreUnavailable, KindLogUnavailable, KindGridUnavailable:
		return true
	}
	return false
}
