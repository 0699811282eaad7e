package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/profundo/internal/domain"
)

var (
	// ErrEmptyText is returned when text is empty
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrNoAPIKey is returned when no provider API key is configured
	ErrNoAPIKey = errors.New("no API key configured: set PROFUNDO_API_KEY or OPENROUTER_API_KEY")
)

type Config struct {
	APIKey              string
	BaseURL             string
	EmbeddingModel      string
	EmbeddingDimensions int
	ChatModel           string
	Temperature         float32
	RequestTimeout      time.Duration
	MaxAttempts         int
	HTTPClient          *http.Client
}

// Client wraps the provider API with retries and the embedding dimension
// invariant.
type Client struct {
	embeddings EmbeddingAPI
	chat       ChatAPI
	model      string
	retry      RetryPolicy
	logger     *zap.Logger

	mu         sync.Mutex
	dimensions int
}

// NewClientWithConfig creates a new client with explicit configuration.
func NewClientWithConfig(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	adapter := NewOpenAIAdapter(cfg)

	policy := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RequestTimeout > 0 {
		policy.AttemptTimeout = cfg.RequestTimeout
	}

	tag := ModelTag(string(adapter.embeddingModel), cfg.EmbeddingDimensions)
	return NewClient(adapter, adapter, tag, cfg.EmbeddingDimensions, policy, logger), nil
}

// ModelTag identifies the vectors a model produces. A requested dimension
// is part of the tag, so changing it re-keys cursors and stored vectors
// instead of mixing lengths under one name.
func ModelTag(model string, dimensions int) string {
	if dimensions <= 0 {
		return model
	}
	return fmt.Sprintf("%s@%d", model, dimensions)
}

// NewClient assembles a client from explicit API implementations. A zero
// dimensions value is fixed by the first embedding response.
func NewClient(embeddings EmbeddingAPI, chat ChatAPI, model string, dimensions int, policy RetryPolicy, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		embeddings: embeddings,
		chat:       chat,
		model:      model,
		retry:      policy,
		logger:     logger,
		dimensions: dimensions,
	}
}

// Model returns the embedding model identifier every vector is tagged with.
func (c *Client) Model() string {
	return c.model
}

// Dimensions returns the embedding dimension, or 0 before the first call.
func (c *Client) Dimensions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dimensions
}

// Embed generates an embedding for the given text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one request, preserving order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if t == "" {
			return nil, ErrEmptyText
		}
	}

	var vectors [][]float32
	err := c.retry.do(ctx, "embed", c.logger, func(ctx context.Context) error {
		out, err := c.embeddings.CreateEmbeddings(ctx, texts)
		if err != nil {
			return err
		}
		if len(out) != len(texts) {
			return errors.New("embedding count does not match input count")
		}
		vectors = out
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := c.checkDimensions(vectors); err != nil {
		return nil, err
	}
	return vectors, nil
}

func (c *Client) checkDimensions(vectors [][]float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range vectors {
		if len(v) == 0 {
			return domain.NewInvariantViolation("embedding", "model %s returned an empty vector", c.model)
		}
		if c.dimensions == 0 {
			c.dimensions = len(v)
		}
		if len(v) != c.dimensions {
			return domain.NewInvariantViolation("embedding",
				"model %s returned %d dimensions, expected %d", c.model, len(v), c.dimensions)
		}
	}
	return nil
}

// Complete runs a chat completion under the retry policy.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if c.chat == nil {
		return "", errors.New("no chat API configured")
	}
	var out string
	err := c.retry.do(ctx, "chat", c.logger, func(ctx context.Context) error {
		resp, err := c.chat.CreateChatCompletion(ctx, system, user)
		if err != nil {
			return err
		}
		out = resp
		return nil
	})
	return out, err
}
