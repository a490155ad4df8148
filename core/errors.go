package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// ConflictError signals that the requested write already happened: a duplicate
// hour tuple, an aggregate window already committed, a payout already made.
// Distinct from validation so callers can tell "bad input" from "already done".
type ConflictError struct {
	Err error
}

func NewConflictError(msg string) error {
	return &ConflictError{errors.New(msg)}
}

func (err ConflictError) Error() string { return err.Err.Error() }

func IsConflict(err error) bool {
	_, ok := errors.Cause(err).(*ConflictError)
	return ok
}

type notFound struct {
	message string
}

func NewNotFoundError(msg string) error {
	return &notFound{message: msg}
}

func (err notFound) Error() string { return err.message }

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*notFound)
	return ok
}

// ProviderError wraps a failure from an external provider (payments, email,
// calendar). Transient failures may be retried with backoff; terminal ones are
// recorded against the affected party and never retried.
type ProviderError struct {
	Op        string
	Transient bool
	Err       error
}

func NewProviderError(op string, transient bool, err error) error {
	return &ProviderError{Op: op, Transient: transient, Err: err}
}

func (err ProviderError) Error() string {
	return err.Op + ": " + err.Err.Error()
}

func (err ProviderError) Unwrap() error { return err.Err }

func IsTransient(err error) bool {
	if perr, ok := errors.Cause(err).(*ProviderError); ok {
		return perr.Transient
	}
	return false
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
