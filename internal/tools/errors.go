package tools

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Code classifies tool failures.
type Code string

const (
	CodeUnknownTool      Code = "UnknownTool"
	CodeUnauthorized     Code = "Unauthorized"
	CodeInvalidArguments Code = "InvalidArguments"
	CodeTimeout          Code = "Timeout"
	CodeTransient        Code = "TransientFailure"
	CodePermanent        Code = "PermanentFailure"
)

// Error is the typed failure returned by Executor.Invoke.
type Error struct {
	Code    Code
	Tool    string
	Field   string // set for InvalidArguments
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Field != "":
		return fmt.Sprintf("%s %s: %s (field %q)", e.Code, e.Tool, e.Message, e.Field)
	case e.Message != "":
		return fmt.Sprintf("%s %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("%s %s", e.Code, e.Tool)
}

func (e *Error) Unwrap() error { return e.Err }

// IsCode reports whether err is a tool Error with the given code.
func IsCode(err error, code Code) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == code
}

type transientError struct{ err error }

func (t transientError) Error() string { return t.err.Error() }
func (t transientError) Unwrap() error { return t.err }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

// IsTransient reports whether a handler error may succeed on retry:
// explicitly marked errors, deadline expiry and network errors.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te transientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
