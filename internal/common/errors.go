package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// PersistenceError marks a store write that failed after extraction succeeded.
// The document's extracted data is discarded rather than half-committed.
type PersistenceError struct {
	Document string
	Cause    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed for %s: %v", e.Document, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

// RegistryIOError marks a failed write to the job registry file itself.
// Job tracking cannot be trusted past this point, so it is fatal to the
// whole processing attempt.
type RegistryIOError struct {
	Op    string
	Cause error
}

func (e *RegistryIOError) Error() string {
	return fmt.Sprintf("registry %s failed: %v", e.Op, e.Cause)
}

func (e *RegistryIOError) Unwrap() error { return e.Cause }
