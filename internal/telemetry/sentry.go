// Package telemetry wraps Sentry tracing and error capture for index,
// harvest and recall runs.
package telemetry

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/cloo-solutions/profundo/internal/domain"
)

const serviceName = "profundo"

// untracedTransactions are never sampled.
var untracedTransactions = map[string]bool{
	"GET /health":  true,
	"GET /metrics": true,
}

type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
}

// Init initializes Sentry and returns a function that flushes pending
// events. Without a DSN both are no-ops.
func Init(cfg Config, logger *zap.Logger) (func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate == 0 {
		cfg.TracesSampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		Debug:            cfg.Debug,
		ServerName:       serviceName,
		TracesSampler: sentry.TracesSampler(func(ctx sentry.SamplingContext) float64 {
			if untracedTransactions[ctx.Span.Name] {
				return 0.0
			}
			var emptySpanID sentry.SpanID
			if ctx.Span.ParentSpanID != emptySpanID {
				if ctx.Span.Sampled.Bool() {
					return 1.0
				}
				return 0.0
			}
			return cfg.TracesSampleRate
		}),
		BeforeSend: dropExpected,
	})
	if err != nil {
		logger.Warn("sentry: failed to initialize, continuing without tracing", zap.Error(err))
		return func() {}, nil
	}

	logger.Info("sentry: tracing initialized",
		zap.String("environment", cfg.Environment),
		zap.Float64("sample_rate", cfg.TracesSampleRate))
	return func() { sentry.Flush(5 * time.Second) }, nil
}

// dropExpected discards events for a busy workspace lock, which is a
// normal outcome for overlapping runs.
func dropExpected(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if hint != nil && errors.Is(hint.OriginalException, domain.ErrAlreadyRunning) {
		return nil
	}
	return event
}

// SpanAttributes tag a run span.
type SpanAttributes struct {
	SessionID string
	Model     string
	Operation string
	Backend   string
}

// Span is a nil-safe handle on a sentry span.
type Span struct {
	inner *sentry.Span
}

func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// SetError marks the span failed and captures err with its taxonomy tags.
func (s *Span) SetError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	s.inner.Status = sentry.SpanStatusInternalError
	if errors.Is(err, context.Canceled) {
		s.inner.Status = sentry.SpanStatusCanceled
		return
	}
	CaptureError(s.inner.Context(), err)
}

// MarkFailed sets an error status without capturing an event.
func (s *Span) MarkFailed() {
	if s.inner != nil {
		s.inner.Status = sentry.SpanStatusInternalError
	}
}

func (s *Span) SetData(key string, value any) {
	if s.inner != nil {
		s.inner.SetData(key, value)
	}
}

func setAttributes(span *sentry.Span, attrs SpanAttributes) {
	if span == nil {
		return
	}
	if attrs.SessionID != "" {
		span.SetTag("session_id", attrs.SessionID)
	}
	if attrs.Model != "" {
		span.SetTag("model", attrs.Model)
	}
	if attrs.Backend != "" {
		span.SetTag("backend", attrs.Backend)
	}
}

// StartSpan starts a child of the span in ctx, or a new transaction when
// there is none. The operation becomes the span op.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(attrs.Operation, sentry.WithDescription(name))
	} else {
		span = sentry.StartSpan(ctx, attrs.Operation, sentry.WithTransactionName(name))
	}
	setAttributes(span, attrs)
	return span.Context(), &Span{inner: span}
}

// StartTransaction starts a root span, used for background runs.
func StartTransaction(ctx context.Context, name string, op string) (context.Context, *Span) {
	options := []sentry.SpanOption{sentry.WithTransactionName(name)}
	if op != "" {
		options = append(options, sentry.WithOpName(op))
	}
	span := sentry.StartSpan(ctx, op, options...)
	return span.Context(), &Span{inner: span}
}

// CaptureError reports err, tagged with where a run halted and which
// provider call failed when err carries that information.
func CaptureError(ctx context.Context, err error) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range ErrorTags(err) {
			scope.SetTag(k, v)
		}
		hub.CaptureException(err)
	})
}

// ErrorTags derives Sentry tags from the error taxonomy.
func ErrorTags(err error) map[string]string {
	tags := make(map[string]string)

	var halt *domain.HaltError
	if errors.As(err, &halt) {
		tags["halt_source"] = halt.Source
		tags["halt_position"] = strconv.Itoa(halt.Position)
	}

	var pe *domain.ProviderError
	var ee *domain.ExtractionError
	var iv *domain.InvariantViolation
	var se *domain.StorageError
	var de *domain.DomainError
	switch {
	case errors.As(err, &pe):
		tags["error_code"] = domain.ErrCodeProvider
		tags["provider"] = pe.Provider
		tags["provider_op"] = pe.Op
		tags["retryable"] = strconv.FormatBool(pe.Retryable)
		if pe.StatusCode != 0 {
			tags["status_code"] = strconv.Itoa(pe.StatusCode)
		}
	case errors.As(err, &ee):
		tags["error_code"] = domain.ErrCodeExtraction
		tags["session_id"] = ee.SessionID
	case errors.As(err, &iv):
		tags["error_code"] = domain.ErrCodeInvariant
	case errors.As(err, &se):
		tags["error_code"] = domain.ErrCodeStorage
		tags["storage_op"] = se.Op
	case errors.As(err, &de):
		tags["error_code"] = de.Code
	}
	return tags
}

func CaptureMessage(ctx context.Context, message string) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureMessage(message)
	} else {
		sentry.CaptureMessage(message)
	}
}

// AddBreadcrumb records a step of a run on the current scope.
func AddBreadcrumb(ctx context.Context, category, message string) {
	breadcrumb := &sentry.Breadcrumb{
		Type:      "default",
		Category:  category,
		Message:   message,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.AddBreadcrumb(breadcrumb, nil)
	} else {
		sentry.AddBreadcrumb(breadcrumb)
	}
}
