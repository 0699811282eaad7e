package openai

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/metrics"
)

// RetryPolicy bounds how a provider call is retried.
type RetryPolicy struct {
	MaxAttempts     int
	AttemptTimeout  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		AttemptTimeout:  60 * time.Second,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

func (p RetryPolicy) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// do runs fn under the policy. Each attempt gets its own timeout; a
// timed-out attempt counts as a retryable failure. The returned error is
// a *domain.ProviderError or the caller's context error.
func (p RetryPolicy) do(ctx context.Context, op string, logger *zap.Logger, fn func(ctx context.Context) error) error {
	attempt := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}

		attemptCtx := ctx
		if p.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
			defer cancel()
		}

		err := fn(attemptCtx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}

		var iv *domain.InvariantViolation
		if errors.As(err, &iv) {
			return backoff.Permanent(err)
		}

		retryable, status := classify(err)
		perr := &domain.ProviderError{
			Provider:   "openai",
			Op:         op,
			Retryable:  retryable,
			StatusCode: status,
			Err:        err,
		}
		if !retryable {
			return backoff.Permanent(perr)
		}
		return perr
	}

	notify := func(err error, wait time.Duration) {
		metrics.ProviderRetries.WithLabelValues(op).Inc()
		logger.Warn("provider call failed, retrying",
			zap.String("op", op), zap.Duration("wait", wait), zap.Error(err))
	}

	return backoff.RetryNotify(attempt, p.backoff(ctx), notify)
}

// classify reports whether err is worth retrying and the HTTP status it
// carried, if any.
func classify(err error) (bool, int) {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status != 0 {
		return retryableStatus(status), status
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true, 0
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true, 0
	}
	return false, 0
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return true
	}
	return status >= 500
}
