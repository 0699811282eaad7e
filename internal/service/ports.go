package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/lock"
	"github.com/cloo-solutions/profundo/internal/transcript"
)

// VectorStore persists embedded chunks keyed by (chunk id, model).
type VectorStore interface {
	Append(ctx context.Context, e domain.EmbeddedChunk) error
	Scan(ctx context.Context, model string, fn func(domain.EmbeddedChunk) error) error
	Count(ctx context.Context) (int, error)
	Sessions(ctx context.Context) (int, error)
	StatsByModel(ctx context.Context) ([]domain.ModelStats, error)
	PruneSource(ctx context.Context, model, sessionID string, fromSeq int) (int64, error)
}

// Embedder turns text into vectors for a single model.
type Embedder interface {
	Model() string
	Dimensions() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator runs a text-generation request.
type Generator interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// CursorStore tracks per-source progress.
type CursorStore interface {
	Read(source string) (domain.Cursor, bool)
	Advance(source string, position int, ts time.Time) (domain.Cursor, error)
	Reset(source string) (domain.Cursor, error)
	SetTail(source, digest string) (domain.Cursor, error)
	List() []domain.Cursor
	Reload() error
}

// SessionSource discovers and loads session transcripts.
type SessionSource interface {
	List(ctx context.Context) ([]transcript.SessionInfo, error)
	Load(info transcript.SessionInfo) (*transcript.Session, error)
}

// LearningLog is the append-only store of learning records.
type LearningLog interface {
	Append(records []domain.LearningRecord) error
	All() ([]domain.LearningRecord, error)
	Latest() ([]domain.LearningRecord, error)
}

// Locker serializes mutating runs over a workspace.
type Locker interface {
	Lock() (unlock func() error, err error)
}

type fileLocker string

// FileLocker locks the workspace with an advisory lock file at path.
func FileLocker(path string) Locker {
	return fileLocker(path)
}

func (p fileLocker) Lock() (func() error, error) {
	l, err := lock.Acquire(string(p))
	if err != nil {
		return nil, err
	}
	return l.Release, nil
}

func acquire(l Locker) (func() error, error) {
	if l == nil {
		return func() error { return nil }, nil
	}
	return l.Lock()
}
