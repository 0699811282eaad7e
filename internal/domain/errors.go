package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeProvider       = "PROVIDER_ERROR"
	ErrCodeExtraction     = "EXTRACTION_ERROR"
	ErrCodeInvariant      = "INVARIANT_VIOLATION"
	ErrCodeStorage        = "STORAGE_ERROR"
	ErrCodeAlreadyRunning = "ALREADY_RUNNING"
)

// Validation errors
var (
	ErrEmptyQuery          = NewDomainError(ErrCodeValidation, "query text is required")
	ErrInvalidLearningKind = NewDomainError(ErrCodeValidation, "invalid learning kind")
	ErrMissingRequired     = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidFusionPolicy = NewDomainError(ErrCodeValidation, "invalid fusion policy")
)

// Not found errors
var (
	ErrSessionNotFound = NewDomainError(ErrCodeNotFound, "session not found")
)

// ErrAlreadyRunning is returned when another run holds the workspace lock.
var ErrAlreadyRunning = NewDomainError(ErrCodeAlreadyRunning, "another profundo run holds the workspace lock")

// ProviderError is a failure talking to a remote embedding or
// text-generation provider.
type ProviderError struct {
	Provider   string
	Op         string
	Retryable  bool
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Retryable {
		kind = "retryable"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("[%s] %s %s failed (%s, status %d): %v", ErrCodeProvider, e.Provider, e.Op, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("[%s] %s %s failed (%s): %v", ErrCodeProvider, e.Provider, e.Op, kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ExtractionError means the text-generation provider answered but the
// answer could not be parsed into learning records.
type ExtractionError struct {
	SessionID string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("[%s] session %s: %v", ErrCodeExtraction, e.SessionID, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// InvariantViolation signals a programming or data-corruption bug. It is
// never absorbed.
type InvariantViolation struct {
	What   string
	Detail string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("[%s] %s: %s", ErrCodeInvariant, e.What, e.Detail)
}

// NewInvariantViolation builds an InvariantViolation with a formatted detail.
func NewInvariantViolation(what, format string, args ...any) *InvariantViolation {
	return &InvariantViolation{What: what, Detail: fmt.Sprintf(format, args...)}
}

// StorageError wraps an on-disk or database read/write failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", ErrCodeStorage, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err, returning nil when err is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// HaltError reports the source and position at which a run stopped.
type HaltError struct {
	Source   string
	Position int
	Err      error
}

func (e *HaltError) Error() string {
	return fmt.Sprintf("halted %s at position %d: %v", e.Source, e.Position, e.Err)
}

func (e *HaltError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err carries a retryable ProviderError.
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// IsFatal reports whether err must abort the current operation outright.
func IsFatal(err error) bool {
	var iv *InvariantViolation
	var se *StorageError
	return errors.As(err, &iv) || errors.As(err, &se)
}
