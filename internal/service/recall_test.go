package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/learnings"
)

func indexedWorkspace(t *testing.T) *workspace {
	t.Helper()
	w := newWorkspace(t)
	seedThreeByTwo(t, w)
	_, err := w.indexer(newFakeEmbedder("model-a"), DefaultIndexConfig()).Run(context.Background(), IndexOptions{})
	require.NoError(t, err)
	return w
}

func TestRecallService_EmptyQuery(t *testing.T) {
	w := newWorkspace(t)
	_, err := NewRecallService(w.store, newFakeEmbedder("model-a"), w.log, nil).
		Recall(context.Background(), domain.Query{Text: "   "})
	assert.ErrorIs(t, err, domain.ErrEmptyQuery)
}

func TestRecallService_DefaultsAndEmptyStore(t *testing.T) {
	w := newWorkspace(t)
	res, err := NewRecallService(w.store, newFakeEmbedder("model-a"), w.log, nil).
		Recall(context.Background(), domain.Query{Text: "postgres"})
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Zero(t, res.Scanned)
}

func TestRecallService_CachesQueryEmbeddings(t *testing.T) {
	w := indexedWorkspace(t)
	e := newFakeEmbedder("model-a")
	svc := NewRecallService(w.store, e, w.log, nil)

	for i := 0; i < 3; i++ {
		_, err := svc.Recall(context.Background(), domain.Query{Text: "postgres", K: 2})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, e.calls)
}

func TestRecallService_FusesLearnings(t *testing.T) {
	w := indexedWorkspace(t)
	h := learnings.NewHarvest("s1", t0, t0.Add(time.Hour))
	require.NoError(t, w.log.Append(h.Records(learnings.Extraction{
		Topics:    []string{"postgres"},
		Decisions: []string{"raise shared_buffers to 4GB"},
		Summary:   "Tuned the database.",
	})))

	res, err := NewRecallService(w.store, newFakeEmbedder("model-a"), w.log, nil).
		Recall(context.Background(), domain.Query{Text: "postgres", K: 4})
	require.NoError(t, err)
	require.Len(t, res.Items, 4)

	assert.Equal(t, domain.OriginConversation, res.Items[0].Origin)
	assert.Equal(t, "s1#0", res.Items[0].Chunk.ID())

	var fromLearnings int
	for i, item := range res.Items {
		assert.Equal(t, i+1, item.Rank)
		if item.Origin == domain.OriginLearning {
			fromLearnings++
			require.NotNil(t, item.Learning)
			assert.Nil(t, item.Chunk)
			assert.Equal(t, "s1", item.Learning.SessionID)
			assert.InDelta(t, 1.0, item.Score, 1e-9)
		}
	}
	assert.Equal(t, 3, fromLearnings)
}

func TestRecallService_ExpandScoresBestVariant(t *testing.T) {
	w := indexedWorkspace(t)
	svc := NewRecallService(w.store, newFakeEmbedder("model-a"), nil, nil)

	plain, err := svc.Recall(context.Background(), domain.Query{Text: "postgres and music", K: 2})
	require.NoError(t, err)
	require.Len(t, plain.Items, 2)
	assert.InDelta(t, 0.7071, plain.Items[0].RawScore, 1e-3)

	expanded, err := svc.Recall(context.Background(), domain.Query{Text: "postgres and music", K: 2, Expand: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"postgres", "music", "postgres music"}, expanded.Variants)
	require.Len(t, expanded.Items, 2)
	assert.Equal(t, "s2#1", expanded.Items[0].Chunk.ID())
	assert.Equal(t, "s1#0", expanded.Items[1].Chunk.ID())
	for _, item := range expanded.Items {
		assert.InDelta(t, 1.0, item.RawScore, 1e-9)
	}
}

func TestRecallService_DateRange(t *testing.T) {
	w := indexedWorkspace(t)
	svc := NewRecallService(w.store, newFakeEmbedder("model-a"), nil, nil)

	res, err := svc.Recall(context.Background(), domain.Query{
		Text:  "postgres",
		K:     10,
		Since: t0.Add(30 * time.Minute),
		Until: t0.Add(90 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)
	for _, item := range res.Items {
		assert.Equal(t, "s2", item.Chunk.SessionID)
	}
}
