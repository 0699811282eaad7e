package learnings

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/profundo/internal/domain"
)

func sampleExtraction() Extraction {
	return Extraction{
		Topics:       []string{"sqlite", " wal ", ""},
		Decisions:    []string{"Use WAL mode"},
		FactsLearned: []string{"User prefers Go"},
		ActionItems:  []string{"Benchmark the scan"},
		Summary:      "Discussed storage.",
	}
}

func TestHarvest_Records(t *testing.T) {
	sessionTime := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	h := NewHarvest("s1", sessionTime, time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC))

	recs := h.Records(sampleExtraction())
	require.Len(t, recs, 6)

	kinds := make([]domain.LearningKind, 0, len(recs))
	for _, r := range recs {
		kinds = append(kinds, r.Kind)
		assert.Equal(t, h.ID, r.HarvestID)
		assert.Equal(t, "s1", r.SessionID)
		assert.Equal(t, sessionTime, r.Timestamp)
		assert.Equal(t, []string{"sqlite", "wal"}, r.Tags)
		assert.NoError(t, domain.ValidateLearningRecord(&r))
	}
	assert.Equal(t, []domain.LearningKind{
		domain.LearningKindTopic, domain.LearningKindTopic,
		domain.LearningKindDecision, domain.LearningKindFact,
		domain.LearningKindActionItem, domain.LearningKindSummary,
	}, kinds)

	// ids are stable for a harvest and unique within it
	again := h.Records(sampleExtraction())
	seen := map[string]bool{}
	for i := range recs {
		assert.Equal(t, recs[i].ID, again[i].ID)
		assert.False(t, seen[recs[i].ID])
		seen[recs[i].ID] = true
	}
}

func TestHarvest_RecordsEmptyExtraction(t *testing.T) {
	h := NewHarvest("s1", time.Time{}, time.Now())
	assert.Empty(t, h.Records(Extraction{}))
}

func TestLog_AppendAndAll(t *testing.T) {
	log := Open(filepath.Join(t.TempDir(), "memory", "learnings.jsonl"), nil)

	none, err := log.All()
	require.NoError(t, err)
	assert.Empty(t, none)

	h := NewHarvest("s1", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Now())
	recs := h.Records(sampleExtraction())
	require.NoError(t, log.Append(recs))

	all, err := log.All()
	require.NoError(t, err)
	require.Len(t, all, len(recs))
	assert.Equal(t, recs[2].Text, all[2].Text)
	assert.Equal(t, recs[2].ID, all[2].ID)
	assert.True(t, recs[2].HarvestedAt.Equal(all[2].HarvestedAt))
}

func TestLog_AppendRejectsInvalid(t *testing.T) {
	log := Open(filepath.Join(t.TempDir(), "learnings.jsonl"), nil)
	err := log.Append([]domain.LearningRecord{{ID: "x", SessionID: "s", Kind: "bogus", Text: "t"}})

	var iv *domain.InvariantViolation
	assert.True(t, errors.As(err, &iv))

	_, statErr := os.Stat(log.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestLog_LatestSupersedesOlderHarvest(t *testing.T) {
	log := Open(filepath.Join(t.TempDir(), "learnings.jsonl"), nil)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := NewHarvest("s1", t0, t0.Add(time.Hour))
	require.NoError(t, log.Append(first.Records(Extraction{Summary: "old summary"})))

	other := NewHarvest("s2", t0, t0.Add(time.Hour))
	require.NoError(t, log.Append(other.Records(Extraction{Summary: "s2 summary"})))

	second := NewHarvest("s1", t0, t0.Add(2*time.Hour))
	require.NoError(t, log.Append(second.Records(Extraction{Summary: "new summary", Decisions: []string{"ship it"}})))

	all, err := log.All()
	require.NoError(t, err)
	assert.Len(t, all, 4)

	latest, err := log.Latest()
	require.NoError(t, err)
	require.Len(t, latest, 3)
	texts := []string{latest[0].Text, latest[1].Text, latest[2].Text}
	assert.Equal(t, []string{"s2 summary", "ship it", "new summary"}, texts)

	assert.Equal(t, []string{"s1", "s2"}, HarvestedSessions(latest))
}

func TestLog_Search(t *testing.T) {
	log := Open(filepath.Join(t.TempDir(), "learnings.jsonl"), nil)
	h := NewHarvest("s1", time.Time{}, time.Now())
	require.NoError(t, log.Append(h.Records(sampleExtraction())))

	got, err := log.Search("WAL", 0)
	require.NoError(t, err)
	// every record carries the "wal" topic tag
	assert.Len(t, got, 6)

	got, err = log.Search("benchmark", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.LearningKindActionItem, got[0].Kind)

	got, err = log.Search("", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.LearningKindSummary, got[1].Kind)
}

func TestLog_ReadsLegacyLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learnings.jsonl")
	legacy := `{"session_id":"old","date":"2025-12-24","topics":["rust"],"decisions":["rewrite in go"],"facts_learned":[],"action_items":[],"summary":"A chat.","message_count":8,"cost":0.01,"harvested_at":"2025-12-25T08:00:00Z"}
garbage line
`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	log := Open(path, nil)
	all, err := log.All()
	require.NoError(t, err)
	require.Len(t, all, 3)

	assert.Equal(t, "old", all[0].SessionID)
	assert.Equal(t, domain.LearningKindTopic, all[0].Kind)
	assert.Equal(t, "rewrite in go", all[1].Text)
	assert.Equal(t, "2025-12-24", all[2].Date())
	assert.Equal(t, time.Date(2025, 12, 25, 8, 0, 0, 0, time.UTC), all[2].HarvestedAt)

	// decoding is deterministic so legacy ids are stable across reads
	again, err := log.All()
	require.NoError(t, err)
	assert.Equal(t, all[1].ID, again[1].ID)

	// a new harvest supersedes the legacy one
	h := NewHarvest("old", time.Time{}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, log.Append(h.Records(Extraction{Summary: "fresh"})))
	latest, err := log.Latest()
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "fresh", latest[0].Text)
}
