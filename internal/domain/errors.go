package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so the gateway can map them to distinct responses.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindDecode     ErrorKind = "decode"
	KindStore      ErrorKind = "store"
	KindUnknown    ErrorKind = "unknown"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("session not found")
	ErrConflict   = errors.New("session state conflict")
	ErrDecode     = errors.New("malformed message")
	ErrStore      = errors.New("store failure")
)

var sentinels = map[ErrorKind]error{
	KindValidation: ErrValidation,
	KindNotFound:   ErrNotFound,
	KindConflict:   ErrConflict,
	KindDecode:     ErrDecode,
	KindStore:      ErrStore,
}

// Error carries the kind of failure together with the operation that produced it.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// NewError creates an error of the given kind.
func NewError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// WrapError creates an error of the given kind around err.
func WrapError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return KindUnknown
}
