package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/profundo/internal/chunker"
	"github.com/cloo-solutions/profundo/internal/cursor"
	"github.com/cloo-solutions/profundo/internal/database"
	"github.com/cloo-solutions/profundo/internal/domain"
	"github.com/cloo-solutions/profundo/internal/learnings"
	"github.com/cloo-solutions/profundo/internal/repository"
	"github.com/cloo-solutions/profundo/internal/transcript"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type workspace struct {
	dir         string
	sessionsDir string
	source      *transcript.Source
	store       *repository.SQLiteChunkRepository
	cursors     *cursor.Store
	log         *learnings.Log
	chunker     *chunker.Chunker
}

func newWorkspace(t *testing.T) *workspace {
	t.Helper()
	dir := t.TempDir()
	sessionsDir := filepath.Join(dir, "sessions")
	require.NoError(t, os.MkdirAll(sessionsDir, 0o755))

	db, err := database.OpenSQLite(filepath.Join(dir, "memory", "profundo.sqlite"))
	require.NoError(t, err)
	store := repository.NewSQLiteChunkRepository(db)
	t.Cleanup(func() { store.Close() })

	cursors, err := cursor.Open(filepath.Join(dir, "memory", ".profundo-cursor.json"))
	require.NoError(t, err)

	return &workspace{
		dir:         dir,
		sessionsDir: sessionsDir,
		source:      transcript.NewSource(sessionsDir, nil),
		store:       store,
		cursors:     cursors,
		log:         learnings.Open(filepath.Join(dir, "memory", "learnings.jsonl"), nil),
		chunker:     chunker.New(chunker.DefaultChunkConfig(), nil),
	}
}

func (w *workspace) lockPath() string {
	return filepath.Join(w.dir, "memory", ".profundo.lock")
}

// writeSession writes a transcript whose turns alternate user and
// assistant, starting with user, one minute apart.
func (w *workspace) writeSession(t *testing.T, id string, start time.Time, turns ...string) {
	t.Helper()
	var b strings.Builder
	for i, text := range turns {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		b.Write(turnLine(t, role, text, start.Add(time.Duration(i)*time.Minute)))
		b.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(filepath.Join(w.sessionsDir, id+".jsonl"), []byte(b.String()), 0o644))
}

// appendTurn adds one turn to the end of an existing session file.
func (w *workspace) appendTurn(t *testing.T, id, role, text string, ts time.Time) {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(w.sessionsDir, id+".jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Write(append(turnLine(t, role, text, ts), '\n'))
	require.NoError(t, err)
}

func (w *workspace) loadSession(t *testing.T, id string) *transcript.Session {
	t.Helper()
	infos, err := w.source.List(context.Background())
	require.NoError(t, err)
	for _, info := range infos {
		if info.ID == id {
			sess, err := w.source.Load(info)
			require.NoError(t, err)
			return sess
		}
	}
	t.Fatalf("session %s not found", id)
	return nil
}

func turnLine(t *testing.T, role, text string, ts time.Time) []byte {
	t.Helper()
	line, err := json.Marshal(map[string]any{
		"type":      "message",
		"timestamp": ts.Format(time.RFC3339Nano),
		"message": map[string]any{
			"role":    role,
			"content": []map[string]string{{"type": "text", "text": text}},
			"model":   "test-model",
			"usage": map[string]any{
				"input": 100, "output": 50, "cacheRead": 25, "totalTokens": 175,
				"cost": map[string]float64{"total": 0.01},
			},
		},
	})
	require.NoError(t, err)
	return line
}

func (w *workspace) indexer(e Embedder, cfg IndexConfig) *IndexService {
	return NewIndexService(w.source, w.chunker, e, w.store, w.cursors, FileLocker(w.lockPath()), cfg, nil)
}

func (w *workspace) sessionChunks(t *testing.T, model, session string) []domain.EmbeddedChunk {
	t.Helper()
	var out []domain.EmbeddedChunk
	require.NoError(t, w.store.Scan(context.Background(), model, func(e domain.EmbeddedChunk) error {
		if e.SessionID == session {
			out = append(out, e)
		}
		return nil
	}))
	return out
}

var vocabulary = []string{"postgres", "kubernetes", "cooking", "music"}

// fakeEmbedder maps text to a bag-of-keywords vector over vocabulary plus
// one dimension for text that mentions none of them.
type fakeEmbedder struct {
	mu     sync.Mutex
	model  string
	extra  int
	failOn map[string]error
	calls  int
	texts  []string
}

func newFakeEmbedder(model string) *fakeEmbedder {
	return &fakeEmbedder{model: model, failOn: map[string]error{}}
}

func (f *fakeEmbedder) Model() string { return f.model }

func (f *fakeEmbedder) Dimensions() int { return len(vocabulary) + 1 + f.extra }

func (f *fakeEmbedder) vector(text string) []float32 {
	v := make([]float32, f.Dimensions())
	lower := strings.ToLower(text)
	hit := false
	for i, word := range vocabulary {
		if n := strings.Count(lower, word); n > 0 {
			v[i] = float32(n)
			hit = true
		}
	}
	if !hit {
		v[len(vocabulary)] = 1
	}
	return v
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.calls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		for needle, err := range f.failOn {
			if strings.Contains(text, needle) {
				return nil, err
			}
		}
		f.texts = append(f.texts, text)
		out[i] = f.vector(text)
	}
	return out, nil
}

func (f *fakeEmbedder) embeddedTexts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}
