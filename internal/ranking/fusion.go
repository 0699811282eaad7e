package ranking

import (
	"sort"

	"github.com/cloo-solutions/profundo/internal/domain"
)

const rrfK = 60

// Fuse merges ranked conversation chunks and learnings into one list of at
// most k items. Each source's scores are first made comparable under
// policy; items are then interleaved by fused score. Ties prefer the
// conversation origin, then the more recent item.
func Fuse(chunks []ScoredChunk, learnings []ScoredLearning, k int, policy domain.FusionPolicy) []domain.ResultItem {
	chunkRaw := make([]float64, len(chunks))
	for i, c := range chunks {
		chunkRaw[i] = c.Score
	}
	learningRaw := make([]float64, len(learnings))
	for i, l := range learnings {
		learningRaw[i] = l.Score
	}

	chunkFused := normalize(chunkRaw, policy)
	learningFused := normalize(learningRaw, policy)

	items := make([]domain.ResultItem, 0, len(chunks)+len(learnings))
	for i := range chunks {
		c := chunks[i].Chunk
		items = append(items, domain.ResultItem{
			Score:    chunkFused[i],
			RawScore: chunks[i].Score,
			Origin:   domain.OriginConversation,
			Chunk:    &c,
		})
	}
	for i := range learnings {
		l := learnings[i].Learning
		items = append(items, domain.ResultItem{
			Score:    learningFused[i],
			RawScore: learnings[i].Score,
			Origin:   domain.OriginLearning,
			Learning: &l,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Origin != b.Origin {
			return a.Origin == domain.OriginConversation
		}
		if a.RawScore != b.RawScore {
			return a.RawScore > b.RawScore
		}
		if ta, tb := a.Timestamp(), b.Timestamp(); !ta.Equal(tb) {
			return ta.After(tb)
		}
		return a.Key() < b.Key()
	})

	if k >= 0 && len(items) > k {
		items = items[:k]
	}
	for i := range items {
		items[i].Rank = i + 1
	}
	return items
}

// normalize maps one source's raw scores to fused scores. Under the rank
// policy raw scores only determine order, so the input must be sorted
// best first, which the rankers guarantee.
func normalize(raw []float64, policy domain.FusionPolicy) []float64 {
	out := make([]float64, len(raw))
	if len(raw) == 0 {
		return out
	}

	if policy == domain.FusionRank {
		rank := 0
		for i := range raw {
			if i == 0 || raw[i] != raw[i-1] {
				rank = i + 1
			}
			out[i] = 1.0 / float64(rrfK+rank)
		}
		return out
	}

	lo, hi := raw[0], raw[0]
	for _, s := range raw[1:] {
		lo = min(lo, s)
		hi = max(hi, s)
	}
	for i, s := range raw {
		if hi == lo {
			out[i] = 1
			continue
		}
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}
