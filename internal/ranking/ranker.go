package ranking

import (
	"github.com/cloo-solutions/profundo/internal/domain"
)

// Ranker scores stored chunks against one or more query vectors produced
// by the same embedding model and keeps the top k. Its Add method is
// meant to be passed to a vector store scan.
type Ranker struct {
	model   string
	queries [][]float32
	query   domain.Query
	top     *TopK
	scanned int
}

func NewRanker(model string, queries [][]float32, q domain.Query) *Ranker {
	return &Ranker{
		model:   model,
		queries: queries,
		query:   q,
		top:     NewTopK(q.K),
	}
}

// Add scores one stored chunk. A chunk embedded by a different model or
// with a different vector length is never compared; receiving one is an
// invariant violation.
func (r *Ranker) Add(e domain.EmbeddedChunk) error {
	if e.Model != r.model {
		return domain.NewInvariantViolation("ranking",
			"chunk %s embedded with %s compared against a %s query", e.ID(), e.Model, r.model)
	}
	if len(r.queries) > 0 && len(e.Vector) != len(r.queries[0]) {
		return domain.NewInvariantViolation("ranking",
			"chunk %s has %d dimensions, query has %d", e.ID(), len(e.Vector), len(r.queries[0]))
	}
	if !r.query.InRange(e.Timestamp) {
		return nil
	}
	r.scanned++

	best := 0.0
	for i, q := range r.queries {
		s := Cosine(q, e.Vector)
		if i == 0 || s > best {
			best = s
		}
	}
	if r.query.MinScore > 0 && best < r.query.MinScore {
		return nil
	}
	r.top.Push(ScoredChunk{Chunk: e.Chunk, Score: best})
	return nil
}

// Scanned is the number of chunks that passed the date filter.
func (r *Ranker) Scanned() int {
	return r.scanned
}

func (r *Ranker) Results() []ScoredChunk {
	return r.top.Results()
}
