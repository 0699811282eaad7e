package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/cloo-solutions/profundo/internal/chunker"
	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/learnings"
	"github.com/cloo-solutions/profundo/internal/metrics"
	"github.com/cloo-solutions/profundo/internal/telemetry"
	"github.com/cloo-solutions/profundo/internal/transcript"
)

const harvestSystemPrompt = "You are a helpful assistant that extracts structured information."

const harvestPrompt = `Analyze this conversation and extract structured learnings.

Respond with ONLY valid JSON (no markdown, no explanation):
{
    "topics": ["topic1", "topic2"],
    "decisions": ["decision made"],
    "facts_learned": ["new fact about user"],
    "action_items": ["task to do"],
    "summary": "One paragraph summary"
}

Rules:
- topics: 2-5 keywords describing what was discussed
- decisions: Only explicit decisions made, not general discussion
- facts_learned: New information about the user (preferences, background, etc.)
- action_items: Tasks that were identified to do
- summary: Brief summary of the conversation's purpose and outcome
- Use empty arrays [] if nothing fits a category
- Be concise and specific

Conversation:
`

const truncationMarker = "\n...[truncated]"

// HarvestConfig tunes which sessions are harvested and how much of each
// transcript the generator sees.
type HarvestConfig struct {
	MaxTokens   int
	MinMessages int
}

func DefaultHarvestConfig() HarvestConfig {
	return HarvestConfig{MaxTokens: 12000, MinMessages: 4}
}

// HarvestOptions selects what a harvest run processes.
type HarvestOptions struct {
	// Since skips sessions that started before this day.
	Since    time.Time
	Sessions []string
}

// SessionFailure records why one session could not be harvested.
type SessionFailure struct {
	SessionID string
	Err       error
}

func (f SessionFailure) Error() string {
	return fmt.Sprintf("session %s: %v", f.SessionID, f.Err)
}

func (f SessionFailure) Unwrap() error {
	return f.Err
}

// HarvestReport summarizes one harvest run.
type HarvestReport struct {
	Sessions  int
	Harvested int
	Skipped   int
	Records   int
	Failures  []SessionFailure
}

// Err aggregates the per-session failures, or returns nil.
func (r *HarvestReport) Err() error {
	var result *multierror.Error
	for _, f := range r.Failures {
		result = multierror.Append(result, f)
	}
	return result.ErrorOrNil()
}

// HarvestService distils session transcripts into learning records.
type HarvestService struct {
	source    SessionSource
	chunker   *chunker.Chunker
	tokenizer chunker.Tokenizer
	generator Generator
	log       LearningLog
	cursors   CursorStore
	locker    Locker
	cfg       HarvestConfig
	logger    *zap.Logger
	now       func() time.Time
}

func NewHarvestService(
	source SessionSource,
	ch *chunker.Chunker,
	tokenizer chunker.Tokenizer,
	generator Generator,
	log LearningLog,
	cursors CursorStore,
	locker Locker,
	cfg HarvestConfig,
	logger *zap.Logger,
) *HarvestService {
	if tokenizer == nil {
		tokenizer = chunker.EstimateTokenizer{}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultHarvestConfig().MaxTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HarvestService{
		source:    source,
		chunker:   ch,
		tokenizer: tokenizer,
		generator: generator,
		log:       log,
		cursors:   cursors,
		locker:    locker,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Run harvests every session with turn pairs its harvest cursor has not
// covered yet. A session whose extraction fails is recorded in the report
// and keeps its cursor, so the next run retries it.
func (s *HarvestService) Run(ctx context.Context, opts HarvestOptions) (*HarvestReport, error) {
	unlock, err := acquire(s.locker)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(); err != nil {
			s.logger.Warn("failed to release workspace lock", zap.Error(err))
		}
	}()
	if err := s.cursors.Reload(); err != nil {
		return nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "harvest.run", telemetry.SpanAttributes{Operation: "harvest"})
	defer span.End()

	sessions, err := s.source.List(ctx)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	sessions = filterSessions(sessions, opts.Sessions)

	report := &HarvestReport{}
	for _, info := range sessions {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Sessions++

		n, err := s.harvestSession(ctx, info, opts)
		switch {
		case err == nil && n < 0:
			report.Skipped++
			metrics.HarvestSessions.WithLabelValues("skipped").Inc()
		case err == nil:
			report.Harvested++
			report.Records += n
			metrics.HarvestSessions.WithLabelValues("harvested").Inc()
			telemetry.AddBreadcrumb(ctx, "harvest", "harvested "+info.ID)
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return report, ctxErr
			}
			if domain.IsFatal(err) {
				span.SetError(err)
				return report, err
			}
			report.Failures = append(report.Failures, SessionFailure{SessionID: info.ID, Err: err})
			metrics.HarvestSessions.WithLabelValues("failed").Inc()
			s.logger.Warn("harvest failed", zap.String("session", info.ID), zap.Error(err))
		}
	}

	span.SetData("harvested", report.Harvested)
	return report, nil
}

// harvestSession returns the number of records written, or -1 when the
// session was skipped.
func (s *HarvestService) harvestSession(ctx context.Context, info transcript.SessionInfo, opts HarvestOptions) (int, error) {
	sess, err := s.source.Load(info)
	if err != nil {
		return 0, err
	}

	source := domain.HarvestSource(sess.ID)
	cur, _ := s.cursors.Read(source)
	pairs := s.chunker.Count(sess.Turns)
	if pairs <= cur.Position {
		return -1, nil
	}
	if !opts.Since.IsZero() && sess.Date().Before(truncateDay(opts.Since)) {
		return -1, nil
	}
	if sess.MessageCount < s.cfg.MinMessages {
		return -1, nil
	}

	ex, err := s.extract(ctx, sess)
	if err != nil {
		return 0, err
	}

	started := sess.FirstTimestamp
	if started.IsZero() {
		started = sess.Date()
	}
	h := learnings.NewHarvest(sess.ID, started, s.now())
	records := h.Records(ex)
	if err := s.log.Append(records); err != nil {
		return 0, err
	}
	if _, err := s.cursors.Advance(source, pairs, sess.LastTimestamp); err != nil {
		return 0, err
	}

	s.logger.Info("harvested session",
		zap.String("session", sess.ID),
		zap.Int("records", len(records)),
		zap.Int("topics", len(ex.Topics)),
		zap.Int("decisions", len(ex.Decisions)),
		zap.Int("facts", len(ex.FactsLearned)))
	return len(records), nil
}

func (s *HarvestService) extract(ctx context.Context, sess *transcript.Session) (learnings.Extraction, error) {
	text, truncated := s.tokenizer.Truncate(sess.Format(), s.cfg.MaxTokens)
	if truncated {
		text += truncationMarker
	}

	resp, err := s.generator.Complete(ctx, harvestSystemPrompt, harvestPrompt+text)
	if err != nil {
		return learnings.Extraction{}, err
	}

	ex, err := parseExtraction(resp)
	if err != nil {
		return learnings.Extraction{}, &domain.ExtractionError{SessionID: sess.ID, Err: err}
	}
	return ex, nil
}

func parseExtraction(resp string) (learnings.Extraction, error) {
	var ex learnings.Extraction
	body := stripMarkdownJSON(resp)
	if body == "" {
		return ex, errors.New("empty response")
	}
	if err := json.Unmarshal([]byte(body), &ex); err != nil {
		return ex, fmt.Errorf("failed to parse extraction: %w", err)
	}
	return ex, nil
}

// stripMarkdownJSON removes a ```json or ``` fence around a response.
func stripMarkdownJSON(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```json"); ok {
		s = rest
	} else if rest, ok := strings.CutPrefix(s, "```"); ok {
		s = rest
	} else {
		return s
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
