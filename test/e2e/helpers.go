//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap/zaptest"

	"github.com/cloo-solutions/profundo/internal/api/handlers"
	"github.com/cloo-solutions/profundo/internal/chunker"
	"github.com/cloo-solutions/profundo/internal/cursor"
	"github.com/cloo-solutions/profundo/internal/learnings"
	"github.com/cloo-solutions/profundo/internal/repository"
	"github.com/cloo-solutions/profundo/internal/server"
	"github.com/cloo-solutions/profundo/internal/service"
	"github.com/cloo-solutions/profundo/internal/storage"
	"github.com/cloo-solutions/profundo/internal/testutil"
	"github.com/cloo-solutions/profundo/internal/transcript"
)

// E2ETestEnv holds a Postgres-backed workspace, an object store and a
// running recall server.
type E2ETestEnv struct {
	T           *testing.T
	Ctx         context.Context
	PostgresC   *testutil.PostgresContainer
	RustFSC     *testutil.RustFSContainer
	Pool        *pgxpool.Pool
	Store       *repository.PGChunkRepository
	S3Client    *storage.S3Client
	Dir         string
	SessionsDir string
	MemoryDir   string
	Learnings   *learnings.Log
	Index       *service.IndexService
	Export      *service.ExportService
	Server      *httptest.Server
	HTTPClient  *http.Client
}

// SetupE2EEnv creates a full E2E test environment with containers and server
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	pgC := testutil.NewPostgresContainer(ctx, t)
	s3C := testutil.NewRustFSContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC)

	s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        s3C.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.S3AccessKey,
		SecretAccessKey: testutil.S3SecretKey,
		Bucket:          "test-exports",
		Prefix:          "profundo",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("failed to create S3 client: %v", err)
	}
	if err := s3Client.EnsureBucket(ctx); err != nil {
		t.Fatalf("failed to create bucket: %v", err)
	}

	dir := t.TempDir()
	sessionsDir := filepath.Join(dir, "sessions")
	memoryDir := filepath.Join(dir, "memory")
	if err := os.MkdirAll(sessionsDir, 0o755); err != nil {
		t.Fatalf("failed to create sessions dir: %v", err)
	}

	cursors, err := cursor.Open(filepath.Join(memoryDir, ".profundo-cursor.json"))
	if err != nil {
		t.Fatalf("failed to open cursors: %v", err)
	}

	store := repository.NewPGChunkRepository(pool)
	source := transcript.NewSource(sessionsDir, logger)
	log := learnings.Open(filepath.Join(memoryDir, "learnings.jsonl"), logger)
	embedder := keywordEmbedder{}
	locker := service.FileLocker(filepath.Join(memoryDir, ".profundo.lock"))

	index := service.NewIndexService(source, chunker.New(chunker.DefaultChunkConfig(), nil), embedder, store, cursors, locker,
		service.IndexConfig{BatchSize: 4, Concurrency: 2}, logger)
	recall := service.NewRecallService(store, embedder, log, logger)
	status := service.NewStatusService(store, cursors, log, source)
	export := service.NewExportService(log, service.NewStatsService(source, logger), memoryDir, s3Client)

	router := server.NewRouter(server.RouterConfig{
		Logger:           logger,
		RecallHandler:    handlers.NewRecallHandler(recall),
		LearningsHandler: handlers.NewLearningsHandler(log),
		StatusHandler:    handlers.NewStatusHandler(status, nil),
	})
	srv := httptest.NewServer(router)

	env := &E2ETestEnv{
		T:           t,
		Ctx:         ctx,
		PostgresC:   pgC,
		RustFSC:     s3C,
		Pool:        pool,
		Store:       store,
		S3Client:    s3Client,
		Dir:         dir,
		SessionsDir: sessionsDir,
		MemoryDir:   memoryDir,
		Learnings:   log,
		Index:       index,
		Export:      export,
		Server:      srv,
		HTTPClient:  &http.Client{Timeout: 30 * time.Second},
	}
	return env
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.Server != nil {
		e.Server.Close()
	}
	if e.RustFSC != nil {
		e.RustFSC.Terminate(e.Ctx)
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
}

// WriteSession writes a transcript whose turns alternate user and
// assistant, one minute apart.
func (e *E2ETestEnv) WriteSession(id string, start time.Time, turns ...string) {
	var b strings.Builder
	for i, text := range turns {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		line, err := json.Marshal(map[string]any{
			"type":      "message",
			"timestamp": start.Add(time.Duration(i) * time.Minute).Format(time.RFC3339Nano),
			"message": map[string]any{
				"role":    role,
				"content": []map[string]string{{"type": "text", "text": text}},
				"model":   "e2e-model",
				"usage": map[string]any{
					"input": 200, "output": 80, "cacheRead": 50, "totalTokens": 330,
					"cost": map[string]float64{"total": 0.02},
				},
			},
		})
		if err != nil {
			e.T.Fatalf("failed to encode message: %v", err)
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	path := filepath.Join(e.SessionsDir, id+".jsonl")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		e.T.Fatalf("failed to write session: %v", err)
	}
}

// APIResponse is the decoded success or error envelope.
type APIResponse struct {
	StatusCode int
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Code       string          `json:"code"`
}

// Get performs a GET request against the server
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.do(http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body
func (e *E2ETestEnv) Post(path string, body any) (*APIResponse, error) {
	return e.do(http.MethodPost, path, body)
}

func (e *E2ETestEnv) do(method, path string, body any) (*APIResponse, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(e.Ctx, method, e.Server.URL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	out := &APIResponse{StatusCode: resp.StatusCode}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode %s %s: %w: %s", method, path, err, raw)
		}
	}
	return out, nil
}

var vocabulary = []string{"postgres", "kubernetes", "cooking", "music"}

// keywordEmbedder maps text to a normalized bag-of-keywords vector, plus
// one dimension for text that mentions none of them.
type keywordEmbedder struct{}

func (keywordEmbedder) Model() string   { return "e2e/keywords" }
func (keywordEmbedder) Dimensions() int { return len(vocabulary) + 1 }

func (k keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	v := make([]float32, k.Dimensions())
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
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v, nil
}

func (k keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := k.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
