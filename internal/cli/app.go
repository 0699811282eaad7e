package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cloo-solutions/profundo/internal/chunker"
	"github.com/cloo-solutions/profundo/internal/config"
	"github.com/cloo-solutions/profundo/internal/cursor"
	"github.com/cloo-solutions/profundo/internal/database"
	"github.com/cloo-solutions/profundo/internal/learnings"
	"github.com/cloo-solutions/profundo/internal/logging"
	"github.com/cloo-solutions/profundo/internal/openai"
	"github.com/cloo-solutions/profundo/internal/repository"
	"github.com/cloo-solutions/profundo/internal/service"
	"github.com/cloo-solutions/profundo/internal/storage"
	"github.com/cloo-solutions/profundo/internal/telemetry"
	"github.com/cloo-solutions/profundo/internal/transcript"
)

// Store is a vector store that owns a connection.
type Store interface {
	service.VectorStore
	Close() error
}

// App holds the components every command is assembled from. Components
// that need the network or an API key are built on first use, so
// offline commands work without credentials.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Source    *transcript.Source
	Cursors   *cursor.Store
	Learnings *learnings.Log
	Tokenizer chunker.Tokenizer
	Chunker   *chunker.Chunker
	Locker    service.Locker

	store   Store
	client  *openai.Client
	closers []func()
	ctx     context.Context
}

// AddWorkspaceFlags registers the flags that override workspace paths.
func AddWorkspaceFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("sessions-dir", "", "Session transcripts directory (overrides PROFUNDO_SESSIONS_DIR)")
	cmd.PersistentFlags().String("memory-dir", "", "Memory directory for the index and learnings (overrides PROFUNDO_MEMORY_DIR)")
	cmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides PROFUNDO_LOG_LEVEL)")
	cmd.PersistentFlags().Bool("json", false, "Output as JSON")
}

// JSONOutput reports whether --json was given.
func JSONOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

// NewApp loads configuration, applies flag overrides and opens the local
// workspace: logger, telemetry, transcript source, cursor file and
// learnings log.
func NewApp(ctx context.Context, cmd *cobra.Command) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	applyFlagOverrides(cmd, cfg)

	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		return nil, err
	}

	app := &App{Config: cfg, Logger: logger, ctx: ctx}
	app.closers = append(app.closers, func() { logging.Sync(logger) })

	shutdownTelemetry, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: sampleRate(cfg.Environment),
	}, logger)
	if err != nil {
		logger.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
	} else {
		app.closers = append(app.closers, shutdownTelemetry)
	}

	cursors, err := cursor.Open(cfg.CursorPath())
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Cursors = cursors
	app.Source = transcript.NewSource(cfg.SessionsDir, logger)
	app.Learnings = learnings.Open(cfg.LearningsPath(), logger)
	app.Tokenizer = newTokenizer(cfg.Tokenizer, logger)
	app.Chunker = chunker.New(chunker.ChunkConfig{MaxTokens: cfg.ChunkMaxTokens}, app.Tokenizer)
	app.Locker = service.FileLocker(cfg.LockPath())
	return app, nil
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if cmd == nil {
		return
	}
	if v, _ := cmd.Flags().GetString("sessions-dir"); v != "" {
		cfg.SessionsDir = v
	}
	if v, _ := cmd.Flags().GetString("memory-dir"); v != "" {
		cfg.MemoryDir = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
}

// sampleRate defaults to 10% sampling in production, 100% in development
func sampleRate(environment string) float64 {
	if environment == "development" {
		return 1.0
	}
	return 0.1
}

func newTokenizer(encoding string, logger *zap.Logger) chunker.Tokenizer {
	if encoding == "" || strings.EqualFold(encoding, "estimate") {
		return chunker.EstimateTokenizer{}
	}
	return chunker.NewTiktokenTokenizer(encoding, logger)
}

// Store opens the configured vector store.
func (a *App) Store() (Store, error) {
	if a.store != nil {
		return a.store, nil
	}

	switch a.Config.VectorBackend {
	case config.BackendPostgres:
		if err := database.MigratePostgres(a.Config.DatabaseURL); err != nil {
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		pool, err := database.NewPool(a.ctx, database.Config{URL: a.Config.DatabaseURL})
		if err != nil {
			return nil, err
		}
		a.store = repository.NewPGChunkRepository(pool)
	default:
		db, err := database.OpenSQLite(a.Config.DatabasePath())
		if err != nil {
			return nil, err
		}
		a.store = repository.NewSQLiteChunkRepository(db)
	}

	store := a.store
	a.closers = append(a.closers, func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn("failed to close vector store", zap.Error(err))
		}
	})
	a.Logger.Debug("vector store opened", zap.String("backend", a.Config.VectorBackend))
	return a.store, nil
}

// Provider builds the embedding and text-generation client.
func (a *App) Provider() (*openai.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	client, err := openai.NewClientWithConfig(openai.Config{
		APIKey:              a.Config.APIKey,
		BaseURL:             a.Config.BaseURL,
		EmbeddingModel:      a.Config.EmbeddingModel,
		EmbeddingDimensions: a.Config.EmbeddingDimensions,
		ChatModel:           a.Config.ChatModel,
		RequestTimeout:      a.Config.RequestTimeout,
		MaxAttempts:         a.Config.MaxAttempts,
	}, a.Logger)
	if err != nil {
		return nil, err
	}
	a.client = client
	return client, nil
}

func (a *App) IndexService() (*service.IndexService, error) {
	store, err := a.Store()
	if err != nil {
		return nil, err
	}
	client, err := a.Provider()
	if err != nil {
		return nil, err
	}
	return service.NewIndexService(a.Source, a.Chunker, client, store, a.Cursors, a.Locker,
		service.IndexConfig{BatchSize: a.Config.EmbedBatchSize, Concurrency: a.Config.EmbedConcurrency},
		a.Logger), nil
}

func (a *App) RecallService() (*service.RecallService, error) {
	store, err := a.Store()
	if err != nil {
		return nil, err
	}
	client, err := a.Provider()
	if err != nil {
		return nil, err
	}
	return service.NewRecallService(store, client, a.Learnings, a.Logger), nil
}

func (a *App) HarvestService() (*service.HarvestService, error) {
	client, err := a.Provider()
	if err != nil {
		return nil, err
	}
	return service.NewHarvestService(a.Source, a.Chunker, a.Tokenizer, client, a.Learnings, a.Cursors, a.Locker,
		service.HarvestConfig{MaxTokens: a.Config.HarvestMaxTokens, MinMessages: a.Config.HarvestMinMessages},
		a.Logger), nil
}

func (a *App) StatusService() (*service.StatusService, error) {
	store, err := a.Store()
	if err != nil {
		return nil, err
	}
	return service.NewStatusService(store, a.Cursors, a.Learnings, a.Source), nil
}

func (a *App) StatsService() *service.StatsService {
	return service.NewStatsService(a.Source, a.Logger)
}

// ExportService builds the exporter. The object store is only contacted
// when upload is requested.
func (a *App) ExportService(upload bool) (*service.ExportService, error) {
	var uploader service.Uploader
	if upload {
		if !a.Config.HasS3() {
			return nil, fmt.Errorf("S3 upload requested but PROFUNDO_S3_BUCKET and credentials are not configured")
		}
		client, err := storage.NewS3Client(a.ctx, storage.S3ClientConfig{
			Endpoint:        a.Config.S3Endpoint,
			Region:          a.Config.S3Region,
			AccessKeyID:     a.Config.S3AccessKey,
			SecretAccessKey: a.Config.S3SecretKey,
			Bucket:          a.Config.S3Bucket,
			Prefix:          a.Config.S3Prefix,
			UsePathStyle:    a.Config.S3Endpoint != "",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := client.EnsureBucket(a.ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		uploader = client
	}
	return service.NewExportService(a.Learnings, a.StatsService(), a.Config.MemoryDir, uploader), nil
}

// Close releases everything the app opened, most recent first.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
