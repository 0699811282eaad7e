package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/cloo-solutions/profundo/internal/telemetry"
	"github.com/cloo-solutions/profundo/internal/transcript"
)

// SessionWatcher calls onChange after session logs in a directory stop
// changing for the debounce period. A burst of appends to one or more
// session files yields a single call.
type SessionWatcher struct {
	dir      string
	debounce time.Duration
	onChange func()
	logger   *zap.Logger
}

func NewSessionWatcher(dir string, debounce time.Duration, onChange func(), logger *zap.Logger) *SessionWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionWatcher{dir: dir, debounce: debounce, onChange: onChange, logger: logger}
}

// Run watches until ctx is cancelled. It fails only if the directory
// cannot be watched.
func (w *SessionWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	w.logger.Info("watching sessions", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	fire := func() {
		if ctx.Err() == nil {
			w.onChange()
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(event) {
				continue
			}
			mu.Lock()
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("session watcher error", zap.Error(err))
			telemetry.CaptureMessage(ctx, "session watcher: "+err.Error())
		}
	}
}

func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	return transcript.IsSessionFile(filepath.Base(event.Name))
}
