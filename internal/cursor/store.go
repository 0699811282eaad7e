package cursor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cloo-solutions/profundo/internal/domain"
)

const fileVersion = 1

type document struct {
	Version int                      `json:"version"`
	Cursors map[string]domain.Cursor `json:"cursors"`
}

// Store is a file-backed cursor store. Every mutation rewrites the whole
// document atomically, so a crash leaves either the old or the new state
// on disk.
type Store struct {
	mu      sync.Mutex
	path    string
	cursors map[string]domain.Cursor
	now     func() time.Time
}

// Open loads the cursor file at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{
		path:    path,
		cursors: make(map[string]domain.Cursor),
		now:     time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the in-memory cursors with the file's current contents.
// Long-lived holders call it after taking the workspace lock, since another
// process may have advanced cursors since the last read.
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// load reads the file into s.cursors. On error s.cursors is untouched.
func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.cursors = make(map[string]domain.Cursor)
		return nil
	}
	if err != nil {
		return domain.NewStorageError("read cursor file", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.NewStorageError("decode cursor file", err)
	}
	if doc.Version > fileVersion {
		return domain.NewInvariantViolation("cursor file", "unsupported version %d", doc.Version)
	}
	cursors := make(map[string]domain.Cursor, len(doc.Cursors))
	for source, c := range doc.Cursors {
		c.Source = source
		cursors[source] = c
	}
	s.cursors = cursors
	return nil
}

func (s *Store) Path() string {
	return s.path
}

// Read returns the cursor for source, if any.
func (s *Store) Read(source string) (domain.Cursor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cursors[source]
	return c, ok
}

// Advance moves the cursor for source to position and clears its tail.
// Moving backwards is an invariant violation; advancing to the current
// position is a no-op. Every mutation starts from the file on disk, so
// cursors written by another process are never rolled back.
func (s *Store) Advance(source string, position int, ts time.Time) (domain.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return domain.Cursor{}, err
	}

	prev, existed := s.cursors[source]
	if position < prev.Position {
		return prev, domain.NewInvariantViolation("cursor",
			"advance %s to %d would move backwards from %d", source, position, prev.Position)
	}
	if existed && position == prev.Position {
		return prev, nil
	}

	next := prev
	next.Source = source
	next.Position = position
	next.Tail = ""
	if !ts.IsZero() {
		next.Timestamp = ts.UTC()
	}
	next.UpdatedAt = s.now().UTC()

	return s.commit(source, prev, existed, next)
}

// Reset moves the cursor for source back to the origin and bumps its
// generation. Only a full reprocess calls this.
func (s *Store) Reset(source string) (domain.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return domain.Cursor{}, err
	}

	prev, existed := s.cursors[source]
	next := domain.Cursor{
		Source:     source,
		Position:   0,
		Generation: prev.Generation + 1,
		UpdatedAt:  s.now().UTC(),
	}
	return s.commit(source, prev, existed, next)
}

// SetTail records the digest of the open chunk stored at the cursor's
// position without moving it. The chunk is re-embedded once its digest
// changes or a later turn closes it.
func (s *Store) SetTail(source, digest string) (domain.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return domain.Cursor{}, err
	}

	prev, existed := s.cursors[source]
	if existed && prev.Tail == digest {
		return prev, nil
	}
	next := prev
	next.Source = source
	next.Tail = digest
	next.UpdatedAt = s.now().UTC()
	return s.commit(source, prev, existed, next)
}

// List returns every cursor sorted by source.
func (s *Store) List() []domain.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Cursor, 0, len(s.cursors))
	for _, c := range s.cursors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

func (s *Store) commit(source string, prev domain.Cursor, existed bool, next domain.Cursor) (domain.Cursor, error) {
	s.cursors[source] = next
	if err := s.flush(); err != nil {
		if existed {
			s.cursors[source] = prev
		} else {
			delete(s.cursors, source)
		}
		return prev, err
	}
	return next, nil
}

func (s *Store) flush() error {
	data, err := json.MarshalIndent(document{Version: fileVersion, Cursors: s.cursors}, "", "  ")
	if err != nil {
		return domain.NewStorageError("encode cursor file", err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return domain.NewStorageError("write cursor file", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmpName, err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
