package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/profundo/internal/transcript"
)

const dateLayout = "2006-01-02"

// UsageReport aggregates token usage and cost over sessions.
type UsageReport struct {
	Sessions  int                              `json:"sessions"`
	Total     transcript.TokenStats            `json:"total"`
	ByModel   map[string]transcript.TokenStats `json:"by_model"`
	ByDate    map[string]transcript.TokenStats `json:"by_date"`
	FirstDate string                           `json:"first_date,omitempty"`
	LastDate  string                           `json:"last_date,omitempty"`
}

// StatsService reads usage accounting out of session transcripts.
type StatsService struct {
	source SessionSource
	logger *zap.Logger
}

func NewStatsService(source SessionSource, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatsService{source: source, logger: logger}
}

// Usage aggregates sessions whose start day lies in [since, until]; zero
// bounds are open. Unreadable sessions are skipped.
func (s *StatsService) Usage(ctx context.Context, since, until time.Time) (*UsageReport, error) {
	infos, err := s.source.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &UsageReport{
		ByModel: make(map[string]transcript.TokenStats),
		ByDate:  make(map[string]transcript.TokenStats),
	}
	if !since.IsZero() {
		since = truncateDay(since)
	}
	if !until.IsZero() {
		until = truncateDay(until)
	}

	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sess, err := s.source.Load(info)
		if err != nil {
			s.logger.Warn("skipping unreadable session", zap.String("session", info.ID), zap.Error(err))
			continue
		}

		day := sess.Date()
		if !since.IsZero() && day.Before(since) {
			continue
		}
		if !until.IsZero() && day.After(until) {
			continue
		}

		report.Sessions++
		report.Total.Merge(sess.Usage)

		date := day.Format(dateLayout)
		byDate := report.ByDate[date]
		byDate.Merge(sess.Usage)
		report.ByDate[date] = byDate

		for model, usage := range sess.UsageByModel {
			byModel := report.ByModel[model]
			byModel.Merge(usage)
			report.ByModel[model] = byModel
		}

		if report.FirstDate == "" || date < report.FirstDate {
			report.FirstDate = date
		}
		if date > report.LastDate {
			report.LastDate = date
		}
	}
	return report, nil
}
