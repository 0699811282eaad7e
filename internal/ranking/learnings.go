package ranking

import (
	"sort"
	"strings"

	"github.com/cloo-solutions/profundo/internal/domain"
)

// ScoredLearning is a learning record with its keyword match score.
type ScoredLearning struct {
	Learning domain.LearningRecord
	Score    float64
}

// ScoreLearning is the fraction of terms found in the record's text or
// tags.
func ScoreLearning(terms []string, l domain.LearningRecord) float64 {
	if len(terms) == 0 {
		return 0
	}
	text := strings.ToLower(l.SearchText())
	hits := 0
	for _, t := range terms {
		if strings.Contains(text, t) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// RankLearnings scores records against terms and returns the best k with
// a positive score, honoring the query's date range.
func RankLearnings(terms []string, records []domain.LearningRecord, q domain.Query) []ScoredLearning {
	var out []ScoredLearning
	for _, r := range records {
		if !q.InRange(r.Timestamp) {
			continue
		}
		s := ScoreLearning(terms, r)
		if s <= 0 {
			continue
		}
		out = append(out, ScoredLearning{Learning: r, Score: s})
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Learning.Timestamp.Equal(b.Learning.Timestamp) {
			return a.Learning.Timestamp.After(b.Learning.Timestamp)
		}
		return a.Learning.ID < b.Learning.ID
	})

	if q.K >= 0 && len(out) > q.K {
		out = out[:q.K]
	}
	return out
}
