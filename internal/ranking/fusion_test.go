package ranking

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/profundo/internal/domain"
)

func learning(id string, score float64, ts time.Time) ScoredLearning {
	return ScoredLearning{
		Learning: domain.LearningRecord{ID: id, Text: id, Timestamp: ts},
		Score:    score,
	}
}

func TestFuse_MinMax(t *testing.T) {
	chunks := []ScoredChunk{
		scored("s", 0, 0.9, base),
		scored("s", 1, 0.5, base),
	}
	learnings := []ScoredLearning{
		learning("l1", 1.0, base),
		learning("l2", 0.5, base),
		learning("l3", 0.0, base),
	}

	got := Fuse(chunks, learnings, 4, domain.FusionMinMax)
	require.Len(t, got, 4)

	assert.Equal(t, "conversation:s#0", got[0].Key())
	assert.Equal(t, "learning:l1", got[1].Key())
	assert.Equal(t, "learning:l2", got[2].Key())
	assert.InDelta(t, 0.5, got[2].Score, 1e-9)
	assert.Equal(t, "conversation:s#1", got[3].Key())
	for i, item := range got {
		assert.Equal(t, i+1, item.Rank)
	}
	assert.InDelta(t, 0.9, got[0].RawScore, 1e-9)
}

func TestFuse_SingleItemScoresOne(t *testing.T) {
	got := Fuse([]ScoredChunk{scored("s", 0, 0.2, base)}, nil, 5, domain.FusionMinMax)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
	assert.Equal(t, domain.OriginConversation, got[0].Origin)
	assert.NotNil(t, got[0].Chunk)
	assert.Nil(t, got[0].Learning)
}

func TestFuse_Rank(t *testing.T) {
	chunks := []ScoredChunk{scored("s", 0, 0.9, base), scored("s", 1, 0.8, base)}
	learnings := []ScoredLearning{learning("l1", 0.3, base)}

	got := Fuse(chunks, learnings, 10, domain.FusionRank)
	require.Len(t, got, 3)
	assert.Equal(t, "conversation:s#0", got[0].Key())
	assert.Equal(t, "learning:l1", got[1].Key())
	assert.InDelta(t, 1.0/61, got[1].Score, 1e-12)
	assert.InDelta(t, 1.0/62, got[2].Score, 1e-12)
}

func TestFuse_CapsAtK(t *testing.T) {
	chunks := []ScoredChunk{scored("s", 0, 0.9, base), scored("s", 1, 0.8, base)}
	learnings := []ScoredLearning{learning("l1", 0.3, base)}

	assert.Len(t, Fuse(chunks, learnings, 2, domain.FusionMinMax), 2)
	assert.Empty(t, Fuse(chunks, learnings, 0, domain.FusionMinMax))
	assert.Empty(t, Fuse(nil, nil, 5, domain.FusionMinMax))
}

func position(items []domain.ResultItem, key string) int {
	for i, item := range items {
		if item.Key() == key {
			return i
		}
	}
	return len(items)
}

func sortChunks(c []ScoredChunk) {
	sort.Slice(c, func(i, j int) bool { return better(c[i], c[j]) })
}

// Raising one conversation item's raw score never moves it behind an item
// whose raw score did not change.
func TestFuse_Monotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, policy := range []domain.FusionPolicy{domain.FusionMinMax, domain.FusionRank} {
		for round := 0; round < 200; round++ {
			var chunks []ScoredChunk
			for i := 0; i < 1+rng.Intn(6); i++ {
				chunks = append(chunks, scored("s", i, rng.Float64(), base.Add(time.Duration(rng.Intn(3))*time.Hour)))
			}
			var learnings []ScoredLearning
			for i := 0; i < rng.Intn(6); i++ {
				learnings = append(learnings, learning(fmt.Sprintf("l%d", i), rng.Float64(), base))
			}
			sortChunks(chunks)
			sort.Slice(learnings, func(i, j int) bool { return learnings[i].Score > learnings[j].Score })

			target := chunks[rng.Intn(len(chunks))].Chunk.ID()
			before := Fuse(chunks, learnings, -1, policy)

			raised := make([]ScoredChunk, len(chunks))
			copy(raised, chunks)
			for i := range raised {
				if raised[i].Chunk.ID() == target {
					raised[i].Score += rng.Float64() * 0.5
				}
			}
			sortChunks(raised)
			after := Fuse(raised, learnings, -1, policy)

			tkey := "conversation:" + target
			for _, item := range before {
				key := item.Key()
				if key == tkey {
					continue
				}
				if position(before, tkey) < position(before, key) {
					assert.Less(t, position(after, tkey), position(after, key),
						"policy %s round %d: %s overtook raised %s", policy, round, key, tkey)
				}
			}
		}
	}
}
