package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/learnings"
)

// Status is a snapshot of the workspace.
type Status struct {
	Chunks            int                 `json:"chunks"`
	Sessions          int                 `json:"sessions"`
	Models            []domain.ModelStats `json:"models"`
	EmbedCursors      int                 `json:"embed_cursors"`
	HarvestCursors    int                 `json:"harvest_cursors"`
	LastIndexed       time.Time           `json:"last_indexed,omitempty"`
	Learnings         int                 `json:"learnings"`
	HarvestedSessions int                 `json:"harvested_sessions"`
	SessionLogs       int                 `json:"session_logs"`
	SessionLogBytes   int64               `json:"session_log_bytes"`
}

type StatusService struct {
	store     VectorStore
	cursors   CursorStore
	learnings LearningLog
	source    SessionSource
}

func NewStatusService(store VectorStore, cursors CursorStore, learnings LearningLog, source SessionSource) *StatusService {
	return &StatusService{store: store, cursors: cursors, learnings: learnings, source: source}
}

func (s *StatusService) Status(ctx context.Context) (*Status, error) {
	st := &Status{}
	var err error

	if st.Chunks, err = s.store.Count(ctx); err != nil {
		return nil, err
	}
	if st.Sessions, err = s.store.Sessions(ctx); err != nil {
		return nil, err
	}
	if st.Models, err = s.store.StatsByModel(ctx); err != nil {
		return nil, err
	}

	for _, c := range s.cursors.List() {
		switch {
		case domain.IsEmbedSource(c.Source):
			st.EmbedCursors++
			if c.UpdatedAt.After(st.LastIndexed) {
				st.LastIndexed = c.UpdatedAt
			}
		case domain.IsHarvestSource(c.Source):
			st.HarvestCursors++
		}
	}

	records, err := s.learnings.Latest()
	if err != nil {
		return nil, err
	}
	st.Learnings = len(records)
	st.HarvestedSessions = len(learnings.HarvestedSessions(records))

	infos, err := s.source.List(ctx)
	if err != nil {
		return nil, err
	}
	st.SessionLogs = len(infos)
	for _, info := range infos {
		st.SessionLogBytes += info.Size
	}
	return st, nil
}
