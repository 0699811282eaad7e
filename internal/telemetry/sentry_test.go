package telemetry

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"

	"github.com/cloo-solutions/profundo/internal/domain"
)

func TestErrorTags(t *testing.T) {
	t.Run("halted on a provider error", func(t *testing.T) {
		err := &domain.HaltError{
			Source:   "embed/m/s1",
			Position: 12,
			Err:      &domain.ProviderError{Provider: "openrouter", Op: "embeddings", Retryable: true, StatusCode: 429, Err: errors.New("slow down")},
		}
		tags := ErrorTags(fmt.Errorf("run: %w", err))

		assert.Equal(t, "embed/m/s1", tags["halt_source"])
		assert.Equal(t, "12", tags["halt_position"])
		assert.Equal(t, domain.ErrCodeProvider, tags["error_code"])
		assert.Equal(t, "embeddings", tags["provider_op"])
		assert.Equal(t, "true", tags["retryable"])
		assert.Equal(t, "429", tags["status_code"])
	})

	t.Run("extraction", func(t *testing.T) {
		tags := ErrorTags(&domain.ExtractionError{SessionID: "s2", Err: errors.New("not json")})
		assert.Equal(t, domain.ErrCodeExtraction, tags["error_code"])
		assert.Equal(t, "s2", tags["session_id"])
	})

	t.Run("storage", func(t *testing.T) {
		tags := ErrorTags(domain.NewStorageError("append chunk", errors.New("disk full")))
		assert.Equal(t, domain.ErrCodeStorage, tags["error_code"])
		assert.Equal(t, "append chunk", tags["storage_op"])
	})

	t.Run("domain error", func(t *testing.T) {
		tags := ErrorTags(domain.ErrEmptyQuery)
		assert.Equal(t, domain.ErrCodeValidation, tags["error_code"])
	})

	t.Run("plain error", func(t *testing.T) {
		assert.Empty(t, ErrorTags(errors.New("boom")))
	})
}

func TestDropExpected(t *testing.T) {
	event := &sentry.Event{}

	assert.Nil(t, dropExpected(event, &sentry.EventHint{OriginalException: fmt.Errorf("index: %w", domain.ErrAlreadyRunning)}))
	assert.Same(t, event, dropExpected(event, &sentry.EventHint{OriginalException: errors.New("boom")}))
	assert.Same(t, event, dropExpected(event, nil))
}

func TestInit_WithoutDSN(t *testing.T) {
	shutdown, err := Init(Config{}, nil)
	assert.NoError(t, err)
	assert.NotPanics(t, shutdown)
}

func TestSpan_NilSafe(t *testing.T) {
	var s Span
	assert.NotPanics(t, func() {
		s.SetData("k", 1)
		s.SetError(errors.New("boom"))
		s.MarkFailed()
		s.End()
	})

	_, span := StartSpan(context.Background(), "recall", SpanAttributes{Operation: "recall", Model: "m"})
	assert.NotPanics(t, func() {
		span.SetData("results", 3)
		span.End()
	})
}
