package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/profundo/internal/chunker"
	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/metrics"
	"github.com/cloo-solutions/profundo/internal/telemetry"
	"github.com/cloo-solutions/profundo/internal/transcript"
)

// IndexConfig bounds the embedding work of an index run.
type IndexConfig struct {
	BatchSize   int
	Concurrency int
}

func DefaultIndexConfig() IndexConfig {
	return IndexConfig{BatchSize: 32, Concurrency: 4}
}

// IndexOptions selects what an index run processes.
type IndexOptions struct {
	// Full resets every cursor and reprocesses all sessions.
	Full bool
	// Sessions restricts the run to these session ids when non-empty.
	Sessions []string
}

// IndexReport summarizes one index run.
type IndexReport struct {
	Model           string
	SessionsSeen    int
	SessionsIndexed int
	SessionsSkipped int
	ChunksEmbedded  int
	ChunksPruned    int64
	Halts           []*domain.HaltError
	Duration        time.Duration
}

// Halted reports whether any source stopped before completing.
func (r *IndexReport) Halted() bool {
	return len(r.Halts) > 0
}

// Err aggregates the halts of the run, or returns nil.
func (r *IndexReport) Err() error {
	var result *multierror.Error
	for _, h := range r.Halts {
		result = multierror.Append(result, h)
	}
	return result.ErrorOrNil()
}

// IndexService embeds new transcript chunks and advances the cursors.
type IndexService struct {
	source   SessionSource
	chunker  *chunker.Chunker
	embedder Embedder
	store    VectorStore
	cursors  CursorStore
	locker   Locker
	cfg      IndexConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewIndexService(
	source SessionSource,
	ch *chunker.Chunker,
	embedder Embedder,
	store VectorStore,
	cursors CursorStore,
	locker Locker,
	cfg IndexConfig,
	logger *zap.Logger,
) *IndexService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultIndexConfig().BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultIndexConfig().Concurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IndexService{
		source:   source,
		chunker:  ch,
		embedder: embedder,
		store:    store,
		cursors:  cursors,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Run indexes every discovered session. Per-source failures are reported
// in IndexReport.Halts; the returned error is reserved for lock contention,
// cancellation, storage failures and invariant violations.
func (s *IndexService) Run(ctx context.Context, opts IndexOptions) (*IndexReport, error) {
	unlock, err := acquire(s.locker)
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyRunning) {
			metrics.IndexRuns.WithLabelValues("busy").Inc()
		}
		return nil, err
	}
	defer func() {
		if err := unlock(); err != nil {
			s.logger.Warn("failed to release workspace lock", zap.Error(err))
		}
	}()
	// another process may have advanced cursors since the last run
	if err := s.cursors.Reload(); err != nil {
		return nil, err
	}

	model := s.embedder.Model()
	ctx, span := telemetry.StartSpan(ctx, "index.run", telemetry.SpanAttributes{
		Model:     model,
		Operation: "embed",
	})
	defer span.End()

	start := s.now()
	report := &IndexReport{Model: model}
	defer func() { report.Duration = s.now().Sub(start) }()

	err = s.run(ctx, opts, report)
	span.SetData("chunks_embedded", report.ChunksEmbedded)

	switch {
	case err != nil:
		metrics.IndexRuns.WithLabelValues("error").Inc()
		span.SetError(err)
	case report.Halted():
		metrics.IndexRuns.WithLabelValues("halted").Inc()
		telemetry.CaptureError(ctx, report.Err())
	default:
		metrics.IndexRuns.WithLabelValues("ok").Inc()
	}
	s.refreshGauge(ctx)
	return report, err
}

func (s *IndexService) run(ctx context.Context, opts IndexOptions, report *IndexReport) error {
	sessions, err := s.source.List(ctx)
	if err != nil {
		return err
	}
	sessions = filterSessions(sessions, opts.Sessions)

	for _, info := range sessions {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.SessionsSeen++

		res, err := s.indexSession(ctx, info, opts.Full)
		report.ChunksEmbedded += res.embedded
		report.ChunksPruned += res.pruned

		if err == nil {
			if res.embedded == 0 && res.pruned == 0 {
				report.SessionsSkipped++
			} else {
				report.SessionsIndexed++
			}
			continue
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if domain.IsFatal(err) {
			return err
		}

		halt := &domain.HaltError{Source: res.source, Position: res.position, Err: err}
		report.Halts = append(report.Halts, halt)
		s.logger.Warn("index halted",
			zap.String("source", halt.Source),
			zap.Int("position", halt.Position),
			zap.Error(err))

		if domain.IsRetryable(err) {
			// the provider is unavailable; later sources would fail the same way
			return nil
		}
	}
	return nil
}

type sessionResult struct {
	source   string
	position int
	// closed is the number of chunks that can no longer change.
	closed   int
	embedded int
	pruned   int64
}

func (s *IndexService) indexSession(ctx context.Context, info transcript.SessionInfo, full bool) (sessionResult, error) {
	model := s.embedder.Model()
	res := sessionResult{source: domain.EmbedSource(model, info.ID)}

	sess, err := s.source.Load(info)
	if err != nil {
		return res, err
	}

	if full {
		if _, err := s.cursors.Reset(res.source); err != nil {
			return res, err
		}
	}
	cur, _ := s.cursors.Read(res.source)
	res.position = cur.Position

	total := s.chunker.Count(sess.Turns)
	res.closed = s.chunker.Closed(sess.Turns)
	if cur.Position < total && !s.tailStored(sess, cur, total) {
		err = s.embedChunks(ctx, sess, &res)
		if err != nil {
			return res, err
		}
	}

	if full {
		pruned, err := s.store.PruneSource(ctx, model, sess.ID, total)
		if err != nil {
			return res, err
		}
		res.pruned = pruned
	}

	if res.embedded > 0 {
		s.logger.Info("indexed session",
			zap.String("session", sess.ID),
			zap.Int("chunks", res.embedded),
			zap.Int("position", res.position))
	}
	return res, nil
}

// tailStored reports whether the only pending chunk is the open tail and
// it is stored with its current text.
func (s *IndexService) tailStored(sess *transcript.Session, cur domain.Cursor, total int) bool {
	if cur.Tail == "" || cur.Position != total-1 {
		return false
	}
	for c := range s.chunker.Chunks(sess.ID, sess.Turns, cur.Position) {
		return c.Digest() == cur.Tail
	}
	return false
}

type embeddedBatch struct {
	chunks  []domain.Chunk
	vectors [][]float32
	err     error
}

// embedChunks embeds a session's pending chunks, up to Concurrency
// batches at a time, and commits them strictly in chunk order. A chunk is
// appended to the store before the cursor moves past it. The open tail
// chunk is stored too, but the cursor stays on it so the next run
// re-embeds it once more assistant turns arrive.
func (s *IndexService) embedChunks(ctx context.Context, sess *transcript.Session, res *sessionResult) error {
	next, stop := iter.Pull(batched(s.chunker.Chunks(sess.ID, sess.Turns, res.position), s.cfg.BatchSize))
	defer stop()

	for {
		window := make([]embeddedBatch, 0, s.cfg.Concurrency)
		for len(window) < s.cfg.Concurrency {
			b, ok := next()
			if !ok {
				break
			}
			window = append(window, embeddedBatch{chunks: b})
		}
		if len(window) == 0 {
			return nil
		}

		s.embedWindow(ctx, window)

		for _, b := range window {
			if b.err != nil {
				return b.err
			}
			if err := s.commit(ctx, b, res); err != nil {
				return err
			}
		}
	}
}

// embedWindow embeds every batch of the window concurrently. Each batch
// keeps its own error so the caller can commit the batches before the
// first failure.
func (s *IndexService) embedWindow(ctx context.Context, window []embeddedBatch) {
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i := range window {
		g.Go(func() error {
			texts := make([]string, len(window[i].chunks))
			for j, c := range window[i].chunks {
				texts[j] = c.Text
			}
			vectors, err := s.embedder.EmbedBatch(ctx, texts)
			if err == nil && len(vectors) != len(texts) {
				err = domain.NewInvariantViolation("embedding",
					"got %d vectors for %d chunks", len(vectors), len(texts))
			}
			window[i].vectors = vectors
			window[i].err = err
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Debug("embedding batch failed", zap.Error(err))
	}
}

// commit appends a batch chunk by chunk and then moves the cursor past
// the last stored closed chunk, also when cancellation interrupts the
// batch. A stored tail chunk is recorded by digest instead.
func (s *IndexService) commit(ctx context.Context, b embeddedBatch, res *sessionResult) error {
	model := s.embedder.Model()
	stored := 0
	var appendErr error
	for i, c := range b.chunks {
		if appendErr = ctx.Err(); appendErr != nil {
			break
		}
		e := domain.EmbeddedChunk{
			Chunk:     c,
			Model:     model,
			Vector:    b.vectors[i],
			CreatedAt: s.now().UTC(),
		}
		if appendErr = s.store.Append(ctx, e); appendErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				appendErr = ctxErr
			}
			break
		}
		stored++
	}

	if stored == 0 {
		return appendErr
	}
	res.embedded += stored
	metrics.ChunksEmbedded.WithLabelValues(model).Add(float64(stored))

	done := b.chunks[:stored]
	var tail *domain.Chunk
	if last := done[len(done)-1]; last.Seq >= res.closed {
		tail = &last
		done = done[:len(done)-1]
	}
	if len(done) > 0 {
		last := done[len(done)-1]
		if _, err := s.cursors.Advance(res.source, last.Seq+1, last.Timestamp); err != nil {
			return err
		}
		res.position = last.Seq + 1
	}
	if tail != nil {
		if _, err := s.cursors.SetTail(res.source, tail.Digest()); err != nil {
			return err
		}
	}
	return appendErr
}

func (s *IndexService) refreshGauge(ctx context.Context) {
	stats, err := s.store.StatsByModel(context.WithoutCancel(ctx))
	if err != nil {
		s.logger.Debug("failed to refresh stored chunk gauge", zap.Error(err))
		return
	}
	for _, st := range stats {
		metrics.StoredChunks.WithLabelValues(st.Model).Set(float64(st.Chunks))
	}
}

func batched(seq iter.Seq[domain.Chunk], size int) iter.Seq[[]domain.Chunk] {
	return func(yield func([]domain.Chunk) bool) {
		batch := make([]domain.Chunk, 0, size)
		for c := range seq {
			batch = append(batch, c)
			if len(batch) == size {
				if !yield(batch) {
					return
				}
				batch = make([]domain.Chunk, 0, size)
			}
		}
		if len(batch) > 0 {
			yield(batch)
		}
	}
}

func filterSessions(sessions []transcript.SessionInfo, ids []string) []transcript.SessionInfo {
	if len(ids) == 0 {
		return sessions
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := sessions[:0:0]
	for _, s := range sessions {
		if _, ok := want[s.ID]; ok {
			out = append(out, s)
		}
	}
	return out
}

// String renders a one-line summary of the report.
func (r *IndexReport) String() string {
	return fmt.Sprintf("%d chunks embedded with %s across %d sessions (%d up to date, %d halted)",
		r.ChunksEmbedded, r.Model, r.SessionsIndexed, r.SessionsSkipped, len(r.Halts))
}
