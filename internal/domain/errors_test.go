package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainError(t *testing.T) {
	err := NewDomainError(ErrCodeValidation, "bad input")
	assert.Equal(t, "[VALIDATION_ERROR] bad input", err.Error())
	assert.Nil(t, err.Unwrap())

	cause := errors.New("boom")
	wrapped := NewDomainErrorWithCause(ErrCodeStorage, "write failed", cause)
	assert.Equal(t, "[STORAGE_ERROR] write failed: boom", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestProviderError(t *testing.T) {
	cause := errors.New("rate limited")
	err := &ProviderError{Provider: "openrouter", Op: "embed", Retryable: true, StatusCode: 429, Err: cause}

	assert.Contains(t, err.Error(), "retryable")
	assert.Contains(t, err.Error(), "status 429")
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", err)))

	permanent := &ProviderError{Provider: "openrouter", Op: "chat", Err: cause}
	assert.Contains(t, permanent.Error(), "permanent")
	assert.False(t, IsRetryable(permanent))
	assert.False(t, IsFatal(permanent))
}

func TestExtractionError(t *testing.T) {
	cause := errors.New("unexpected token")
	err := &ExtractionError{SessionID: "s2", Err: cause}

	assert.Equal(t, "[EXTRACTION_ERROR] session s2: unexpected token", err.Error())
	var target *ExtractionError
	require.True(t, errors.As(fmt.Errorf("harvest: %w", err), &target))
	assert.Equal(t, "s2", target.SessionID)
	assert.False(t, IsFatal(err))
}

func TestInvariantViolation_IsFatal(t *testing.T) {
	err := NewInvariantViolation("cursor", "position %d < %d", 1, 3)
	assert.Equal(t, "[INVARIANT_VIOLATION] cursor: position 1 < 3", err.Error())
	assert.True(t, IsFatal(fmt.Errorf("advance: %w", err)))
}

func TestNewStorageError(t *testing.T) {
	assert.Nil(t, NewStorageError("read", nil))

	cause := errors.New("disk full")
	err := NewStorageError("write cursor", cause)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, cause)

	// already wrapped errors are not double wrapped
	again := NewStorageError("outer", err)
	assert.Same(t, err, again)
}

func TestHaltError(t *testing.T) {
	cause := &ProviderError{Provider: "openrouter", Op: "embed", Err: errors.New("401")}
	err := &HaltError{Source: "embed/m/s1", Position: 4, Err: cause}

	assert.Contains(t, err.Error(), "halted embed/m/s1 at position 4")
	var pe *ProviderError
	assert.True(t, errors.As(err, &pe))
}

func TestErrAlreadyRunning(t *testing.T) {
	err := fmt.Errorf("embed: %w", ErrAlreadyRunning)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	var de *DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, ErrCodeAlreadyRunning, de.Code)
}
