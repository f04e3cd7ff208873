// Package completion generates answers with an OpenAI-compatible chat model,
// either in one piece or as a stream of chunks.
package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/voynow/chat-with-jfk-files/internal/logging"
	"github.com/voynow/chat-with-jfk-files/internal/provider"
	"github.com/voynow/chat-with-jfk-files/internal/rag"
	"github.com/voynow/chat-with-jfk-files/internal/retry"
)

var tracer = otel.Tracer("chatd.completion")

// Response formats.
const (
	FormatText = "text"
	FormatJSON = "json_object"
)

// Config configures the completion client.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	ResponseFormat string

	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64
	Burst     int
	Retry     retry.Policy
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("completion: api key required")
	}
	if c.Model == "" {
		return errors.New("completion: model required")
	}
	switch c.ResponseFormat {
	case "", FormatText, FormatJSON:
	default:
		return fmt.Errorf("completion: unknown response format %q", c.ResponseFormat)
	}
	return nil
}

// Client implements rag.Completer over a langchaingo model.
type Client struct {
	llm      llms.Model
	model    string
	jsonMode bool
	limiter  *rate.Limiter
	retry    retry.Policy
	logger   *logging.Logger
}

var _ rag.Completer = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLLM replaces the OpenAI-backed model.
func WithLLM(m llms.Model) Option {
	return func(c *Client) { c.llm = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		model:    cfg.Model,
		jsonMode: cfg.ResponseFormat == FormatJSON,
		retry:    cfg.Retry,
		logger:   logging.NewNop(),
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.Burst, 1))
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.logger.Warn(context.Background(), "retrying completion",
			zap.String("model", c.model),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if c.llm == nil {
		llmOpts := []openai.Option{
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			llmOpts = append(llmOpts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(llmOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating OpenAI client: %w", err)
		}
		c.llm = llm
	}
	return c, nil
}

func (c *Client) messages(prompt string) []llms.MessageContent {
	return []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)}
}

func (c *Client) callOptions(extra ...llms.CallOption) []llms.CallOption {
	opts := []llms.CallOption{llms.WithModel(c.model)}
	if c.jsonMode {
		opts = append(opts, llms.WithJSONMode())
	}
	return append(opts, extra...)
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// Complete returns the whole completion for prompt.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "Completer.Complete")
	defer span.End()
	span.SetAttributes(attribute.String("model", c.model))

	var text string
	err := c.retry.Do(ctx, "completion", provider.Transient, func(ctx context.Context) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		resp, err := c.llm.GenerateContent(ctx, c.messages(prompt), c.callOptions()...)
		if err != nil {
			return err
		}
		if resp == nil || len(resp.Choices) == 0 {
			return rag.Model("complete", errors.New("response has no choices"))
		}
		text = resp.Choices[0].Content
		return nil
	})
	if err != nil {
		err = provider.Classify("complete", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: %w", rag.ErrModel, rag.ErrEmptyCompletion)
	}
	span.SetStatus(codes.Ok, "success")
	return text, nil
}

// Stream sends completion chunks as they arrive. Failures before the first
// chunk are retried; once text has been emitted a failure ends the stream
// with an error chunk. The channel closes when the model finishes or ctx ends.
func (c *Client) Stream(ctx context.Context, prompt string) <-chan rag.Chunk {
	out := make(chan rag.Chunk)

	go func() {
		defer close(out)
		ctx, span := tracer.Start(ctx, "Completer.Stream")
		defer span.End()
		span.SetAttributes(attribute.String("model", c.model))

		send := func(ch rag.Chunk) bool {
			select {
			case out <- ch:
				return true
			case <-ctx.Done():
				return false
			}
		}

		started := false
		chunks := 0
		retryable := func(err error) bool { return !started && provider.Transient(err) }

		err := c.retry.Do(ctx, "completion stream", retryable, func(ctx context.Context) error {
			if err := c.wait(ctx); err != nil {
				return err
			}
			onChunk := func(_ context.Context, chunk []byte) error {
				if len(chunk) == 0 {
					return nil
				}
				started = true
				if !send(rag.Chunk{Text: string(chunk)}) {
					return ctx.Err()
				}
				chunks++
				return nil
			}
			_, err := c.llm.GenerateContent(ctx, c.messages(prompt), c.callOptions(llms.WithStreamingFunc(onChunk))...)
			return err
		})
		span.SetAttributes(attribute.Int("chunks", chunks))
		if err == nil {
			span.SetStatus(codes.Ok, "success")
			return
		}
		if ctx.Err() != nil {
			span.SetStatus(codes.Error, "canceled")
			return
		}

		err = provider.Classify("complete", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn(ctx, "completion stream failed",
			zap.String("model", c.model),
			zap.Bool("started", started),
			zap.Int("chunks", chunks),
			zap.Error(err),
		)
		send(rag.Chunk{Err: err})
	}()

	return out
}
