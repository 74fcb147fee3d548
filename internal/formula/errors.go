package formula

import (
	"errors"
	"fmt"
)

// Error kinds reported by Parse and Evaluate. Match them with errors.Is.
var (
	ErrUnknownReference = errors.New("unknown reference")
	ErrDivisionByZero   = errors.New("division by zero")
	ErrMalformed        = errors.New("malformed formula")
	ErrDomain           = errors.New("result outside numeric domain")
	ErrInsufficientData = errors.New("insufficient data")
)

// EvalError describes a parse or evaluation failure.
type EvalError struct {
	Kind   error
	Name   string
	Pos    int
	Detail string
}

func (e *EvalError) Error() string {
	msg := e.Kind.Error()
	if e.Name != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Name)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	return msg
}

// Unwrap exposes the error kind.
func (e *EvalError) Unwrap() error { return e.Kind }

func malformed(pos int, format string, args ...any) *EvalError {
	return &EvalError{Kind: ErrMalformed, Pos: pos, Detail: fmt.Sprintf(format, args...)}
}
