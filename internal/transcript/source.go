package transcript

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SessionInfo identifies a session file without parsing it.
type SessionInfo struct {
	ID      string
	Path    string
	Size    int64
	ModTime time.Time
}

// Source discovers session logs in a directory.
type Source struct {
	dir    string
	logger *zap.Logger
}

func NewSource(dir string, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{dir: dir, logger: logger}
}

func (s *Source) Dir() string {
	return s.dir
}

// List returns the session files sorted by id. A missing directory yields
// no sessions.
func (s *Source) List(ctx context.Context) ([]SessionInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list sessions dir: %w", err)
	}

	var sessions []SessionInfo
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := e.Name()
		if e.IsDir() || !IsSessionFile(name) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			s.logger.Warn("skipping unreadable session file", zap.String("file", name), zap.Error(err))
			continue
		}
		path := filepath.Join(s.dir, name)
		sessions = append(sessions, SessionInfo{
			ID:      SessionID(path),
			Path:    path,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

// Load parses one discovered session.
func (s *Source) Load(info SessionInfo) (*Session, error) {
	return ParseFile(info.Path, s.logger)
}

// IsSessionFile reports whether a file name is a live session log.
// Deleted sessions and resource forks are skipped.
func IsSessionFile(name string) bool {
	return strings.HasSuffix(name, ".jsonl") &&
		!strings.Contains(name, ".deleted") &&
		!strings.HasPrefix(name, "._")
}
