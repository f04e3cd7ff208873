// Package embeddings turns query text into vectors through an
// OpenAI-compatible embedding endpoint.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/voynow/chat-with-jfk-files/internal/logging"
	"github.com/voynow/chat-with-jfk-files/internal/provider"
	"github.com/voynow/chat-with-jfk-files/internal/rag"
	"github.com/voynow/chat-with-jfk-files/internal/retry"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// dimensions of known OpenAI embedding models.
var dimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// Dimension returns the vector size produced by model, or 0 if unknown.
func Dimension(model string) int {
	return dimensions[model]
}

// Config holds configuration for the embedding client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64
	Burst     int
	Retry     retry.Policy
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: api key required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Client embeds text with a langchaingo embedder.
type Client struct {
	embedder embeddings.Embedder
	model    string
	dim      int
	limiter  *rate.Limiter
	retry    retry.Policy
	metrics  *Metrics
	logger   *logging.Logger
}

var _ rag.Embedder = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithEmbedder replaces the OpenAI-backed embedder.
func WithEmbedder(e embeddings.Embedder) Option {
	return func(c *Client) { c.embedder = e }
}

// New creates a Client for the OpenAI embeddings API.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		model:  cfg.Model,
		dim:    Dimension(cfg.Model),
		retry:  cfg.Retry,
		logger: logging.NewNop(),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.logger.Debug(context.Background(), "retrying embedding",
			zap.String("model", c.model),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if c.embedder == nil {
		llmOpts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithEmbeddingModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			llmOpts = append(llmOpts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(llmOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OpenAI client: %w", err)
		}
		// Newlines separate chat turns in the similarity query; keep them.
		e, err := embeddings.NewEmbedder(llm, embeddings.WithStripNewLines(false))
		if err != nil {
			return nil, fmt.Errorf("creating embedder: %w", err)
		}
		c.embedder = e
	}
	return c, nil
}

// Dimension returns the expected vector size, or 0 if the model is unknown.
func (c *Client) Dimension() int {
	return c.dim
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, rag.Validation("cannot embed empty text")
	}

	start := time.Now()
	var vec []float32
	err := c.retry.Do(ctx, "embed", provider.Transient, func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		v, err := c.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err == nil && len(vec) == 0 {
		err = rag.Model("embed", errors.New("provider returned an empty vector"))
	}
	if err == nil && c.dim > 0 && len(vec) != c.dim {
		err = rag.Model("embed", fmt.Errorf("expected %d dimensions, got %d", c.dim, len(vec)))
	}

	kind := ""
	if err != nil {
		err = provider.Classify("embed", err)
		kind = rag.Classify(err).String()
		c.logger.Warn(ctx, "embedding failed", zap.String("model", c.model), zap.Error(err))
	}
	c.metrics.RecordGeneration(ctx, c.model, time.Since(start), kind)
	if err != nil {
		return nil, err
	}
	return vec, nil
}
