package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/lock"
)

// seedThreeByTwo writes three sessions of two exchanges each.
func seedThreeByTwo(t *testing.T, w *workspace) {
	t.Helper()
	w.writeSession(t, "s1", t0,
		"how do I tune postgres?", "raise shared_buffers for postgres",
		"what should I cook tonight", "try cooking risotto")
	w.writeSession(t, "s2", t0.Add(time.Hour),
		"deploy to kubernetes?", "use a kubernetes deployment",
		"favourite music?", "jazz music")
	w.writeSession(t, "s3", t0.Add(2*time.Hour),
		"hello", "hi there",
		"postgres on kubernetes?", "use the postgres operator for kubernetes")
}

func TestIndexService_IndexesAndRecalls(t *testing.T) {
	ctx := context.Background()
	w := newWorkspace(t)
	seedThreeByTwo(t, w)
	e := newFakeEmbedder("model-a")

	report, err := w.indexer(e, IndexConfig{BatchSize: 1, Concurrency: 2}).Run(ctx, IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 6, report.ChunksEmbedded)
	assert.Equal(t, 3, report.SessionsIndexed)
	assert.False(t, report.Halted())
	assert.NoError(t, report.Err())

	count, err := w.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, count)

	for _, id := range []string{"s1", "s2", "s3"} {
		c, ok := w.cursors.Read(domain.EmbedSource("model-a", id))
		require.True(t, ok)
		// the second exchange is stored but stays open for more replies
		assert.Equal(t, 1, c.Position)
		assert.NotEmpty(t, c.Tail)
	}

	recall := NewRecallService(w.store, e, w.log, nil)
	res, err := recall.Recall(ctx, domain.Query{Text: "postgres", K: 3})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	assert.Equal(t, 6, res.Scanned)

	top := res.Items[0]
	assert.Equal(t, domain.OriginConversation, top.Origin)
	assert.Equal(t, "s1#0", top.Chunk.ID())
	assert.InDelta(t, 1.0, top.Score, 1e-9)
	assert.InDelta(t, 1.0, top.RawScore, 1e-6)
	assert.Equal(t, "User: how do I tune postgres?\n\nAssistant: raise shared_buffers for postgres", top.Chunk.Text)

	assert.Equal(t, "s3#1", res.Items[1].Chunk.ID())
	assert.InDelta(t, 0.7071, res.Items[1].RawScore, 1e-3)
	// zero-score ties go to the most recent chunk
	assert.Equal(t, "s3#0", res.Items[2].Chunk.ID())
}

func TestIndexService_RerunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	w := newWorkspace(t)
	seedThreeByTwo(t, w)
	e := newFakeEmbedder("model-a")
	svc := w.indexer(e, DefaultIndexConfig())

	_, err := svc.Run(ctx, IndexOptions{})
	require.NoError(t, err)
	before := e.embeddedTexts()
	cursorsBefore := w.cursors.List()

	report, err := svc.Run(ctx, IndexOptions{})
	require.NoError(t, err)
	assert.Zero(t, report.ChunksEmbedded)
	assert.Equal(t, 3, report.SessionsSkipped)
	assert.Equal(t, before, e.embeddedTexts())
	assert.Equal(t, cursorsBefore, w.cursors.List())

	count, err := w.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, count)
}

func TestIndexService_IncrementalAppend(t *testing.T) {
	ctx := context.Background()
	w := newWorkspace(t)
	seedThreeByTwo(t, w)
	e := newFakeEmbedder("model-a")
	svc := w.indexer(e, DefaultIndexConfig())

	_, err := svc.Run(ctx, IndexOptions{})
	require.NoError(t, err)

	w.writeSession(t, "s1", t0,
		"how do I tune postgres?", "raise shared_buffers for postgres",
		"what should I cook tonight", "try cooking risotto",
		"any music for cooking?", "something calm")

	report, err := svc.Run(ctx, IndexOptions{})
	require.NoError(t, err)
	// the former tail is embedded once more now that it is closed
	assert.Equal(t, 2, report.ChunksEmbedded)
	assert.Equal(t, 1, report.SessionsIndexed)

	c, _ := w.cursors.Read(domain.EmbedSource("model-a", "s1"))
	assert.Equal(t, 2, c.Position)
	assert.True(t, t0.Add(2*time.Minute).Equal(c.Timestamp))
	assert.NotEmpty(t, c.Tail)
	assert.Len(t, w.sessionChunks(t, "model-a", "s1"), 3)
}

func TestIndexService_LateAssistantTurnReplacesTail(t *testing.T) {
	ctx := context.Background()
	w := newWorkspace(t)
	e := newFakeEmbedder("model-a")
	svc := w.indexer(e, DefaultIndexConfig())

	w.writeSession(t, "s1", t0, "tell me about postgres", "checking")
	_, err := svc.Run(ctx, IndexOptions{})
	require.NoError(t, err)

	// a second assistant turn lands for the same user turn
	w.writeSession(t, "s1", t0, "tell me about postgres", "checking")
	w.appendTurn(t, "s1", "assistant", "postgres uses MVCC for kubernetes", t0.Add(2*time.Minute))

	report, err := svc.Run(ctx, IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ChunksEmbedded)

	sess := w.loadSession(t, "s1")
	var fresh []string
	for c := range w.chunker.Chunks("s1", sess.Turns, 0) {
		fresh = append(fresh, c.Text)
	}
	require.Equal(t, []string{"User: tell me about postgres\n\nAssistant: checking\n\npostgres uses MVCC for kubernetes"}, fresh)

	chunks := w.sessionChunks(t, "model-a", "s1")
	require.Len(t, chunks, 1)
	assert.Equal(t, "s1#0", chunks[0].ID())
	assert.Equal(t, fresh[0], chunks[0].Text)

	c, _ := w.cursors.Read(domain.EmbedSource("model-a", "s1"))
	assert.Equal(t, 0, c.Position)

	// unchanged tail is not embedded again
	report, err = svc.Run(ctx, IndexOptions{})
	require.NoError(t, err)
	assert.Zero(t, report.ChunksEmbedded)
}

func TestIndexService_DanglingUserTurnIsBuffered(t *testing.T) {
	ctx := context.Background()
	w := newWorkspace(t)
	e := newFakeEmbedder("model-a")
	svc := w.indexer(e, DefaultIndexConfig())

	w.writeSession(t, "s1", t0, "first question", "first answer", "second question")
	report, err := svc.Run(ctx, IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ChunksEmbedded)

	w.writeSession(t, "s1", t0, "first question", "first answer", "second question", "second answer")
	report, err = svc.Run(ctx, IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ChunksEmbedded)

	chunks := w.sessionChunks(t, "model-a", "s1")
	require.Len(t, chunks, 2)
	assert.Equal(t, "User: second question\n\nAssistant: second answer", chunks[1].Text)
}

func TestIndexService_FullReprocessLeavesNoDuplicates(t *testing.T) {
	ctx := context.Background()
	w := newWorkspace(t)
	seedThreeByTwo(t, w)
	e := newFakeEmbedder("model-a")
	svc := w.indexer(e, DefaultIndexConfig())

	_, err := svc.Run(ctx, IndexOptions{})
	require.NoError(t, err)

	// s1 lost its second exchange
	w.writeSession(t, "s1", t0, "how do I tune postgres?", "raise shared_buffers for postgres")

	report, err := svc.Run(ctx, IndexOptions{Full: true})
	require.NoError(t, err)
	assert.Equal(t, 5, report.ChunksEmbedded)
	assert.Equal(t, int64(1), report.ChunksPruned)

	count, err := w.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
	assert.Len(t, w.sessionChunks(t, "model-a", "s1"), 1)

	c, _ := w.cursors.Read(domain.EmbedSource("model-a", "s1"))
	assert.Equal(t, 0, c.Position)
	assert.NotEmpty(t, c.Tail)
	assert.Equal(t, int64(1), c.Generation)
}

func TestIndexService_ModelIsolation(t *testing.T) {
	ctx := context.Background()
	w := newWorkspace(t)
	seedThreeByTwo(t, w)

	a := newFakeEmbedder("model-a")
	b := newFakeEmbedder("model-b")
	b.extra = 3

	_, err := w.indexer(a, DefaultIndexConfig()).Run(ctx, IndexOptions{})
	require.NoError(t, err)
	report, err := w.indexer(b, DefaultIndexConfig()).Run(ctx, IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 6, report.ChunksEmbedded)

	stats, err := w.store.StatsByModel(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, 5, stats[0].Dimensions)
	assert.Equal(t, 8, stats[1].Dimensions)

	res, err := NewRecallService(w.store, b, nil, nil).Recall(ctx, domain.Query{Text: "postgres", K: 10})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Scanned)
	assert.Equal(t, "model-b", res.Model)
	for _, item := range res.Items {
		assert.GreaterOrEqual(t, item.RawScore, 0.0)
	}
}

func TestIndexService_PermanentFailureHaltsSource(t *testing.T) {
	ctx := context.Background()
	w := newWorkspace(t)
	seedThreeByTwo(t, w)
	e := newFakeEmbedder("model-a")
	e.failOn["operator"] = &domain.ProviderError{Provider: "fake", Op: "embed", StatusCode: 400, Err: errors.New("bad request")}

	report, err := w.indexer(e, IndexConfig{BatchSize: 1, Concurrency: 1}).Run(ctx, IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, report.ChunksEmbedded)
	require.Len(t, report.Halts, 1)
	assert.Equal(t, domain.EmbedSource("model-a", "s3"), report.Halts[0].Source)
	assert.Equal(t, 1, report.Halts[0].Position)
	assert.Error(t, report.Err())

	var pe *domain.ProviderError
	assert.ErrorAs(t, report.Err(), &pe)

	c, _ := w.cursors.Read(domain.EmbedSource("model-a", "s3"))
	assert.Equal(t, 1, c.Position)
}

func TestIndexService_RetryableExhaustionHaltsRun(t *testing.T) {
	ctx := context.Background()
	w := newWorkspace(t)
	seedThreeByTwo(t, w)
	e := newFakeEmbedder("model-a")
	e.failOn["shared_buffers"] = &domain.ProviderError{Provider: "fake", Op: "embed", Retryable: true, StatusCode: 503, Err: errors.New("unavailable")}

	report, err := w.indexer(e, DefaultIndexConfig()).Run(ctx, IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.SessionsSeen)
	assert.Zero(t, report.ChunksEmbedded)
	require.Len(t, report.Halts, 1)
	assert.True(t, domain.IsRetryable(report.Halts[0]))

	_, ok := w.cursors.Read(domain.EmbedSource("model-a", "s2"))
	assert.False(t, ok)
}

func TestIndexService_InvariantViolationIsFatal(t *testing.T) {
	ctx := context.Background()
	w := newWorkspace(t)
	seedThreeByTwo(t, w)
	e := newFakeEmbedder("model-a")
	e.failOn["jazz"] = domain.NewInvariantViolation("embedding", "dimension changed")

	_, err := w.indexer(e, DefaultIndexConfig()).Run(ctx, IndexOptions{})
	var iv *domain.InvariantViolation
	require.ErrorAs(t, err, &iv)

	_, ok := w.cursors.Read(domain.EmbedSource("model-a", "s3"))
	assert.False(t, ok)
}

func TestIndexService_AlreadyRunning(t *testing.T) {
	w := newWorkspace(t)
	seedThreeByTwo(t, w)

	held, err := lock.Acquire(w.lockPath())
	require.NoError(t, err)
	defer held.Release()

	report, err := w.indexer(newFakeEmbedder("model-a"), DefaultIndexConfig()).Run(context.Background(), IndexOptions{})
	assert.Nil(t, report)
	assert.ErrorIs(t, err, domain.ErrAlreadyRunning)
}

func TestIndexService_Cancelled(t *testing.T) {
	w := newWorkspace(t)
	seedThreeByTwo(t, w)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.indexer(newFakeEmbedder("model-a"), DefaultIndexConfig()).Run(ctx, IndexOptions{})
	assert.ErrorIs(t, err, context.Canceled)

	count, err := w.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, w.cursors.List())
}

func TestIndexService_SessionFilter(t *testing.T) {
	w := newWorkspace(t)
	seedThreeByTwo(t, w)

	report, err := w.indexer(newFakeEmbedder("model-a"), DefaultIndexConfig()).
		Run(context.Background(), IndexOptions{Sessions: []string{"s2"}})
	require.NoError(t, err)
	assert.Equal(t, 1, report.SessionsSeen)
	assert.Equal(t, 2, report.ChunksEmbedded)
}

func TestIndexService_ConcurrentBatchesCommitOnlyBeforeFailure(t *testing.T) {
	ctx := context.Background()
	w := newWorkspace(t)
	e := newFakeEmbedder("model-a")
	e.failOn["rejected"] = &domain.ProviderError{Provider: "fake", Op: "embed", StatusCode: 400, Err: errors.New("bad request")}

	w.writeSession(t, "s", t0,
		"q0", "about postgres",
		"q1", "rejected reply",
		"q2", "about kubernetes",
		"q3", "about music")

	report, err := w.indexer(e, IndexConfig{BatchSize: 1, Concurrency: 4}).Run(ctx, IndexOptions{})
	require.NoError(t, err)
	require.Len(t, report.Halts, 1)
	assert.Equal(t, 1, report.Halts[0].Position)
	assert.Equal(t, 1, report.ChunksEmbedded)

	c, ok := w.cursors.Read(domain.EmbedSource("model-a", "s"))
	require.True(t, ok)
	assert.Equal(t, 1, c.Position)

	chunks := w.sessionChunks(t, "model-a", "s")
	require.Len(t, chunks, 1)
	assert.Equal(t, "s#0", chunks[0].ID())
}
