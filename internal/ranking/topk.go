package ranking

import (
	"container/heap"
	"sort"

	"github.com/cloo-solutions/profundo/internal/domain"
)

// ScoredChunk is a conversation chunk with its raw similarity score.
type ScoredChunk struct {
	Chunk domain.Chunk
	Score float64
}

// better is the total result order: higher score, then more recent, then
// lower chunk id.
func better(a, b ScoredChunk) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.Chunk.Timestamp.Equal(b.Chunk.Timestamp) {
		return a.Chunk.Timestamp.After(b.Chunk.Timestamp)
	}
	return a.Chunk.ID() < b.Chunk.ID()
}

// chunkHeap is a min-heap under better: the root is the worst kept item.
type chunkHeap []ScoredChunk

func (h chunkHeap) Len() int           { return len(h) }
func (h chunkHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h chunkHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *chunkHeap) Push(x any)        { *h = append(*h, x.(ScoredChunk)) }
func (h *chunkHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// TopK keeps the k best chunks seen so far in O(log k) per push.
type TopK struct {
	k int
	h chunkHeap
}

func NewTopK(k int) *TopK {
	if k < 0 {
		k = 0
	}
	return &TopK{k: k, h: make(chunkHeap, 0, k)}
}

func (t *TopK) Push(c ScoredChunk) {
	if t.k == 0 {
		return
	}
	if len(t.h) < t.k {
		heap.Push(&t.h, c)
		return
	}
	if better(c, t.h[0]) {
		t.h[0] = c
		heap.Fix(&t.h, 0)
	}
}

func (t *TopK) Len() int {
	return len(t.h)
}

// Results returns the kept chunks, best first.
func (t *TopK) Results() []ScoredChunk {
	out := make([]ScoredChunk, len(t.h))
	copy(out, t.h)
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out
}
