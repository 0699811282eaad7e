package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	SessionsDir string `envconfig:"SESSIONS_DIR"`
	MemoryDir   string `envconfig:"MEMORY_DIR"`

	APIKey              string        `envconfig:"API_KEY"`
	BaseURL             string        `envconfig:"BASE_URL" default:"https://openrouter.ai/api/v1"`
	EmbeddingModel      string        `envconfig:"EMBEDDING_MODEL" default:"openai/text-embedding-3-small"`
	EmbeddingDimensions int           `envconfig:"EMBEDDING_DIMENSIONS" default:"0"`
	ChatModel           string        `envconfig:"CHAT_MODEL" default:"deepseek/deepseek-v3.2"`
	RequestTimeout      time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	MaxAttempts         int           `envconfig:"MAX_ATTEMPTS" default:"3"`

	EmbedBatchSize     int    `envconfig:"EMBED_BATCH_SIZE" default:"32"`
	EmbedConcurrency   int    `envconfig:"EMBED_CONCURRENCY" default:"4"`
	ChunkMaxTokens     int    `envconfig:"CHUNK_MAX_TOKENS" default:"8000"`
	Tokenizer          string `envconfig:"TOKENIZER" default:"cl100k_base"`
	HarvestMaxTokens   int    `envconfig:"HARVEST_MAX_TOKENS" default:"12000"`
	HarvestMinMessages int    `envconfig:"HARVEST_MIN_MESSAGES" default:"4"`

	VectorBackend string `envconfig:"VECTOR_BACKEND" default:"sqlite"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Prefix    string `envconfig:"S3_PREFIX" default:"profundo"`

	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Daemon
	Port          string        `envconfig:"PORT" default:"8090"`
	IndexInterval time.Duration `envconfig:"INDEX_INTERVAL" default:"10m"`
	WatchDebounce time.Duration `envconfig:"WATCH_DEBOUNCE" default:"5s"`
}

// hostConfig is the subset of the host chat app's config file that is
// used to find the workspace and a provider key.
type hostConfig struct {
	Agents struct {
		Defaults struct {
			Workspace string `json:"workspace"`
		} `json:"defaults"`
	} `json:"agents"`
	Models struct {
		Providers struct {
			OpenRouter struct {
				APIKey string `json:"apiKey"`
			} `json:"openrouter"`
		} `json:"providers"`
	} `json:"models"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("PROFUNDO", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	host, err := readHostConfig(HostConfigPath(home))
	if err != nil {
		return nil, err
	}
	cfg.resolve(home, host)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// HostConfigPath is the host chat app's config file under home.
func HostConfigPath(home string) string {
	return filepath.Join(home, ".clawdbot", "clawdbot.json")
}

func readHostConfig(path string) (hostConfig, error) {
	var host hostConfig
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return host, nil
	}
	if err != nil {
		return host, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &host); err != nil {
		return host, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return host, nil
}

func (c *Config) resolve(home string, host hostConfig) {
	if c.APIKey == "" {
		c.APIKey = firstNonEmpty(
			os.Getenv("OPENROUTER_API_KEY"),
			os.Getenv("OPENAI_API_KEY"),
			host.Models.Providers.OpenRouter.APIKey,
		)
	}

	if c.SessionsDir == "" {
		c.SessionsDir = filepath.Join(home, ".clawdbot", "agents", "main", "sessions")
	}
	if c.MemoryDir == "" {
		workspace := expandHome(host.Agents.Defaults.Workspace, home)
		if workspace == "" {
			workspace = filepath.Join(home, "clawd")
		}
		c.MemoryDir = filepath.Join(workspace, "memory")
	}
	c.SessionsDir = expandHome(c.SessionsDir, home)
	c.MemoryDir = expandHome(c.MemoryDir, home)
	c.VectorBackend = strings.ToLower(strings.TrimSpace(c.VectorBackend))
}

func (c *Config) Validate() error {
	switch c.VectorBackend {
	case BackendSQLite:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("PROFUNDO_DATABASE_URL is required for the %s backend", BackendPostgres)
		}
	default:
		return fmt.Errorf("unknown vector backend %q", c.VectorBackend)
	}
	if c.EmbedBatchSize <= 0 {
		return fmt.Errorf("PROFUNDO_EMBED_BATCH_SIZE must be positive, got %d", c.EmbedBatchSize)
	}
	if c.EmbedConcurrency <= 0 {
		return fmt.Errorf("PROFUNDO_EMBED_CONCURRENCY must be positive, got %d", c.EmbedConcurrency)
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Bucket != "" && (c.S3Endpoint != "" || c.S3AccessKey != "")
}

func (c *Config) HasAPIKey() bool {
	return c.APIKey != ""
}

func (c *Config) DatabasePath() string  { return filepath.Join(c.MemoryDir, "profundo.sqlite") }
func (c *Config) LearningsPath() string { return filepath.Join(c.MemoryDir, "learnings.jsonl") }
func (c *Config) CursorPath() string    { return filepath.Join(c.MemoryDir, ".profundo-cursor.json") }
func (c *Config) LockPath() string      { return filepath.Join(c.MemoryDir, ".profundo.lock") }
func (c *Config) ExportPath() string    { return filepath.Join(c.MemoryDir, "learnings.md") }

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
