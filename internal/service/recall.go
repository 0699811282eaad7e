package service

import (
	"context"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/metrics"
	"github.com/cloo-solutions/profundo/internal/ranking"
	"github.com/cloo-solutions/profundo/internal/telemetry"
)

const (
	DefaultRecallK      = 5
	defaultQueryCache   = 256
	maxExpandedVariants = 3
)

// RecallResult is the answer to one recall query.
type RecallResult struct {
	Query    string              `json:"query"`
	Model    string              `json:"model"`
	Variants []string            `json:"variants,omitempty"`
	Scanned  int                 `json:"scanned"`
	Items    []domain.ResultItem `json:"items"`
}

// RecallService answers meaning-based queries against the vector store
// and the learnings log. It never takes the workspace lock.
type RecallService struct {
	store     VectorStore
	embedder  Embedder
	learnings LearningLog
	cache     *lru.Cache[string, []float32]
	logger    *zap.Logger
}

func NewRecallService(store VectorStore, embedder Embedder, learnings LearningLog, logger *zap.Logger) *RecallService {
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, _ := lru.New[string, []float32](defaultQueryCache)
	return &RecallService{
		store:     store,
		embedder:  embedder,
		learnings: learnings,
		cache:     cache,
		logger:    logger,
	}
}

// Recall ranks stored chunks by cosine similarity to the query, scores
// learnings by keyword overlap and fuses both into at most q.K items.
func (s *RecallService) Recall(ctx context.Context, q domain.Query) (*RecallResult, error) {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return nil, domain.ErrEmptyQuery
	}
	if q.K <= 0 {
		q.K = DefaultRecallK
	}
	if q.Policy == "" {
		q.Policy = domain.FusionMinMax
	}

	model := s.embedder.Model()
	ctx, span := telemetry.StartSpan(ctx, "recall", telemetry.SpanAttributes{
		Model:     model,
		Operation: "recall",
	})
	defer span.End()

	start := time.Now()
	defer func() { metrics.RecallDuration.Observe(time.Since(start).Seconds()) }()

	texts := []string{q.Text}
	result := &RecallResult{Query: q.Text, Model: model}
	if q.Expand {
		result.Variants = ranking.Variants(q.Text, maxExpandedVariants)
		texts = append(texts, result.Variants...)
	}

	vectors, err := s.queryVectors(ctx, model, texts)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	ranker := ranking.NewRanker(model, vectors, q)
	if err := s.store.Scan(ctx, model, ranker.Add); err != nil {
		span.SetError(err)
		return nil, err
	}
	result.Scanned = ranker.Scanned()

	var scored []ranking.ScoredLearning
	if s.learnings != nil {
		records, err := s.learnings.Latest()
		if err != nil {
			span.SetError(err)
			return nil, err
		}
		terms := ranking.Terms(strings.Join(texts, " "))
		scored = ranking.RankLearnings(terms, records, q)
	}

	result.Items = ranking.Fuse(ranker.Results(), scored, q.K, q.Policy)
	span.SetData("results", len(result.Items))
	s.logger.Debug("recall",
		zap.String("query", q.Text),
		zap.Int("scanned", result.Scanned),
		zap.Int("results", len(result.Items)))
	return result, nil
}

// queryVectors embeds texts, serving repeated queries from the cache.
func (s *RecallService) queryVectors(ctx context.Context, model string, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if v, ok := s.cache.Get(cacheKey(model, t)); ok {
			vectors[i] = v
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	embedded, err := s.embedder.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(missing) {
		return nil, domain.NewInvariantViolation("embedding",
			"got %d vectors for %d query texts", len(embedded), len(missing))
	}
	for j, v := range embedded {
		vectors[missingIdx[j]] = v
		s.cache.Add(cacheKey(model, missing[j]), v)
	}
	return vectors, nil
}

func cacheKey(model, text string) string {
	return model + "\x00" + text
}
