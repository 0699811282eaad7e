package jobs

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/service"
	"github.com/cloo-solutions/profundo/internal/telemetry"
)

// IndexRunner runs one incremental index pass.
type IndexRunner interface {
	Run(ctx context.Context, opts service.IndexOptions) (*service.IndexReport, error)
}

// IndexWorker adapts an index run to the Worker loop.
type IndexWorker struct {
	runner IndexRunner
	logger *zap.Logger
}

// NewIndexWorker creates a new IndexWorker instance
func NewIndexWorker(runner IndexRunner, logger *zap.Logger) *IndexWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexWorker{runner: runner, logger: logger}
}

// ProcessJobs implements the JobProcessor interface. A run held off by
// another process owning the workspace lock is not an error; the next
// tick retries.
func (w *IndexWorker) ProcessJobs(ctx context.Context) error {
	ctx, span := telemetry.StartTransaction(ctx, "index.background", "job")
	defer span.End()

	report, err := w.runner.Run(ctx, service.IndexOptions{})
	if errors.Is(err, domain.ErrAlreadyRunning) {
		w.logger.Info("index run skipped: workspace busy")
		return nil
	}
	if err != nil {
		// the run has already reported err on its own span
		span.MarkFailed()
		return err
	}

	for _, h := range report.Halts {
		w.logger.Warn("index source halted",
			zap.String("source", h.Source),
			zap.Int("position", h.Position),
			zap.Error(h.Err))
	}
	if report.ChunksEmbedded > 0 || report.Halted() {
		w.logger.Info("index run finished",
			zap.String("model", report.Model),
			zap.Int("chunks_embedded", report.ChunksEmbedded),
			zap.Int("sessions_indexed", report.SessionsIndexed),
			zap.Int("halts", len(report.Halts)),
			zap.Duration("duration", report.Duration))
	}
	return nil
}
