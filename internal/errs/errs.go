// Package errs provides the structured error types shared by the
// export pipeline. Every error carries a category, a code, and a
// retryable flag so the run controller can separate fatal conditions
// from per-entity noise.
package errs

import (
	"errors"
	"fmt"
)

// Category classifies errors by the component that raised them.
type Category string

const (
	CategorySource    Category = "SOURCE"
	CategoryStorage   Category = "STORAGE"
	CategoryExtract   Category = "EXTRACT"
	CategoryReconcile Category = "RECONCILE"
	CategoryInternal  Category = "INTERNAL"
)

// Error codes.
const (
	CodeSourceUnavailable   = "SOURCE_UNAVAILABLE"
	CodeStorageUnavailable  = "STORAGE_UNAVAILABLE"
	CodeMalformedObservable = "MALFORMED_OBSERVABLE"
	CodeReconcileConflict   = "RECONCILE_CONFLICT"
	CodeUnexpected          = "UNEXPECTED"
)

// Error is the structured error type used throughout the exporter.
type Error struct {
	Category  Category
	Code      string
	Message   string
	Cause     error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on category and code so sentinel-style comparisons work.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a structured error without a cause.
func New(category Category, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	}
}

// Wrap creates a structured error wrapping a cause.
func Wrap(category Category, code, message string, cause error) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(code),
	}
}

// SourceUnavailable marks the upstream query engine as unreachable.
// Fatal to the run; retried only by the external scheduler.
func SourceUnavailable(message string, cause error) *Error {
	return Wrap(CategorySource, CodeSourceUnavailable, message, cause)
}

// StorageUnavailable marks a hot- or cold-store failure.
func StorageUnavailable(message string, cause error) *Error {
	return Wrap(CategoryStorage, CodeStorageUnavailable, message, cause)
}

// MalformedObservable marks a source row that cannot be classified.
// Never fatal; counted and skipped.
func MalformedObservable(message string) *Error {
	return New(CategoryExtract, CodeMalformedObservable, message)
}

// ReconcileConflict marks a snapshot write lost to a concurrent
// writer. The marker is left unwritten so the next run retries.
func ReconcileConflict(message string, cause error) *Error {
	return Wrap(CategoryReconcile, CodeReconcileConflict, message, cause)
}

// IsRetryable reports whether the error chain is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// CodeOf extracts the error code from an error chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func isRetryable(code string) bool {
	switch code {
	case CodeStorageUnavailable, CodeReconcileConflict:
		return true
	default:
		return false
	}
}
