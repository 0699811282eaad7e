// Package lock serializes mutating runs over one workspace.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/cloo-solutions/profundo/internal/domain"
)

// Lock is an advisory, process-wide lock on a workspace. The operating
// system releases it when the holding process exits.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes the lock at path without blocking. It returns
// domain.ErrAlreadyRunning when another process holds it.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, domain.NewStorageError("create lock directory", err)
	}

	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, domain.NewStorageError("acquire lock", fmt.Errorf("%s: %w", path, err))
	}
	if !ok {
		return nil, domain.ErrAlreadyRunning
	}
	return &Lock{fl: fl}, nil
}

func (l *Lock) Path() string {
	return l.fl.Path()
}

// Release drops the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
