package model

import (
	"errors"
	"fmt"

	"gemini/internal/persistence"
)

// ErrorKind classifies model failures.
type ErrorKind string

const (
	KindNotFound    ErrorKind = "not_found"
	KindConstraint  ErrorKind = "constraint"
	KindValidation  ErrorKind = "validation"
	KindUnavailable ErrorKind = "unavailable"
	KindInternal    ErrorKind = "internal"
)

// Error is returned by every model operation that fails.
type Error struct {
	Kind  ErrorKind
	Table string
	Op    string
	Field string
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s %s: %s", e.Table, e.Op, e.Kind)
	if e.Field != "" {
		msg = fmt.Sprintf("%s (field=%s)", msg, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// IsKind reports whether err is a model Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of a model Error, or KindInternal for anything else.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// NewError builds an Error.
func NewError(kind ErrorKind, table, op string, cause error) *Error {
	return &Error{Kind: kind, Table: table, Op: op, Cause: cause}
}

// ValidationError reports a rejected field.
func ValidationError(table, op, field string, cause error) *Error {
	return &Error{Kind: KindValidation, Table: table, Op: op, Field: field, Cause: cause}
}

// NotFoundError reports a missing row.
func NotFoundError(table, op string, cause error) *Error {
	return &Error{Kind: KindNotFound, Table: table, Op: op, Cause: cause}
}

// classify wraps a driver error using the dialect's classification.
func classify(d persistence.Dialect, table, op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return err
	}
	kind := KindInternal
	switch d.Classify(err) {
	case persistence.ClassUniqueViolation, persistence.ClassForeignKeyViolation:
		kind = KindConstraint
	case persistence.ClassCheckViolation:
		kind = KindValidation
	case persistence.ClassUnavailable:
		kind = KindUnavailable
	}
	return &Error{Kind: kind, Table: table, Op: op, Cause: err}
}
