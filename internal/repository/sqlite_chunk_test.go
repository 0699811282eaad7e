package repository

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/profundo/internal/database"
	"github.com/cloo-solutions/profundo/internal/domain"
)

func newSQLiteRepo(t *testing.T) *SQLiteChunkRepository {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "profundo.sqlite"))
	require.NoError(t, err)
	repo := NewSQLiteChunkRepository(db)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func embedded(session string, seq int, model string, vec ...float32) domain.EmbeddedChunk {
	return domain.EmbeddedChunk{
		Chunk: domain.Chunk{
			SessionID: session,
			Seq:       seq,
			Text:      "User: q\n\nAssistant: a",
			Chars:     21,
			Tokens:    6,
			Timestamp: time.Date(2026, 1, 1, 0, seq, 0, 0, time.UTC),
		},
		Model:  model,
		Vector: vec,
	}
}

func scanAll(t *testing.T, repo *SQLiteChunkRepository, model string) []domain.EmbeddedChunk {
	t.Helper()
	var out []domain.EmbeddedChunk
	require.NoError(t, repo.Scan(context.Background(), model, func(e domain.EmbeddedChunk) error {
		out = append(out, e)
		return nil
	}))
	return out
}

func TestSQLiteChunkRepository_AppendAndScan(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	require.NoError(t, repo.Append(ctx, embedded("s1", 0, "m", 1, 0.5, -0.25)))
	require.NoError(t, repo.Append(ctx, embedded("s1", 1, "m", 0, 1, 0)))

	got := scanAll(t, repo, "m")
	require.Len(t, got, 2)
	assert.Equal(t, "s1#0", got[0].ID())
	assert.Equal(t, []float32{1, 0.5, -0.25}, got[0].Vector)
	assert.Equal(t, "m", got[0].Model)
	assert.Equal(t, "User: q\n\nAssistant: a", got[0].Text)
	assert.Equal(t, 21, got[0].Chars)
	assert.Equal(t, 6, got[0].Tokens)
	assert.True(t, got[0].Timestamp.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, got[0].CreatedAt.IsZero())

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSQLiteChunkRepository_AppendSameKeyReplaces(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	require.NoError(t, repo.Append(ctx, embedded("s1", 0, "m", 1, 0)))
	require.NoError(t, repo.Append(ctx, embedded("s1", 0, "m", 0, 1)))

	got := scanAll(t, repo, "m")
	require.Len(t, got, 1)
	assert.Equal(t, []float32{0, 1}, got[0].Vector)
}

func TestSQLiteChunkRepository_ModelIsolation(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	require.NoError(t, repo.Append(ctx, embedded("s1", 0, "model-a", 1, 0)))
	require.NoError(t, repo.Append(ctx, embedded("s1", 0, "model-b", 1, 0, 0)))

	a := scanAll(t, repo, "model-a")
	require.Len(t, a, 1)
	assert.Len(t, a[0].Vector, 2)
	assert.Len(t, scanAll(t, repo, "model-b"), 1)
	assert.Empty(t, scanAll(t, repo, "model-c"))

	stats, err := repo.StatsByModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ModelStats{
		{Model: "model-a", Chunks: 1, Sessions: 1, Dimensions: 2},
		{Model: "model-b", Chunks: 1, Sessions: 1, Dimensions: 3},
	}, stats)

	require.NoError(t, repo.Append(ctx, embedded("s2", 0, "model-a", 0, 1)))
	sessions, err := repo.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sessions)
	count, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSQLiteChunkRepository_PruneSource(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	for seq := 0; seq < 4; seq++ {
		require.NoError(t, repo.Append(ctx, embedded("s1", seq, "m", 1)))
	}
	require.NoError(t, repo.Append(ctx, embedded("s2", 3, "m", 1)))
	require.NoError(t, repo.Append(ctx, embedded("s1", 3, "other", 1)))

	n, err := repo.PruneSource(ctx, "m", "s1", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	total, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, total)
}

func TestSQLiteChunkRepository_AppendRejectsInvalid(t *testing.T) {
	repo := newSQLiteRepo(t)

	err := repo.Append(context.Background(), embedded("s1", 0, "m"))
	var iv *domain.InvariantViolation
	assert.True(t, errors.As(err, &iv))
}

func TestSQLiteChunkRepository_ScanStopsOnCallbackError(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)
	require.NoError(t, repo.Append(ctx, embedded("s1", 0, "m", 1)))
	require.NoError(t, repo.Append(ctx, embedded("s1", 1, "m", 1)))

	stop := errors.New("stop")
	calls := 0
	err := repo.Scan(ctx, "m", func(domain.EmbeddedChunk) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestSQLiteChunkRepository_ScanWhileAppending(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)
	require.NoError(t, repo.Append(ctx, embedded("s0", 0, "m", 1, 0)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := 0; seq < 50; seq++ {
			assert.NoError(t, repo.Append(ctx, embedded("s1", seq, "m", 0, 1)))
		}
	}()

	for i := 0; i < 20; i++ {
		for _, e := range scanAll(t, repo, "m") {
			assert.Len(t, e.Vector, 2)
		}
	}
	wg.Wait()

	assert.Len(t, scanAll(t, repo, "m"), 51)
}

func TestVectorCodec(t *testing.T) {
	v := []float32{0, 1.5, -2.25, 3.4028235e38}
	got, err := decodeVector(encodeVector(v), len(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = decodeVector([]byte{1, 2, 3}, 1)
	assert.Error(t, err)

	assert.True(t, fromUnixNanos(unixNanos(time.Time{})).IsZero())
}
