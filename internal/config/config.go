// Package config loads chatd configuration from defaults, a YAML file, and
// the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/voynow/chat-with-jfk-files/internal/logging"
	"github.com/voynow/chat-with-jfk-files/internal/retry"
	"github.com/voynow/chat-with-jfk-files/internal/telemetry"
)

// Index providers.
const (
	ProviderQdrant  = "qdrant"
	ProviderChromem = "chromem"
)

// Similarity query orderings.
const (
	OrderTextFirst    = "text_first"
	OrderHistoryFirst = "history_first"
)

// maxCORSOrigins is the number of browser origins the chat endpoint serves.
const maxCORSOrigins = 2

// Config is the complete chatd configuration.
type Config struct {
	Server    ServerConfig     `koanf:"server"`
	OpenAI    OpenAIConfig     `koanf:"openai"`
	Index     IndexConfig      `koanf:"index"`
	Retry     RetryConfig      `koanf:"retry"`
	Chat      ChatConfig       `koanf:"chat"`
	Prompt    PromptConfig     `koanf:"prompt"`
	NATS      NATSConfig       `koanf:"nats"`
	MCP       MCPConfig        `koanf:"mcp"`
	Logging   logging.Config   `koanf:"logging"`
	Telemetry telemetry.Config `koanf:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string     `koanf:"host"`
	Port            int        `koanf:"port"`
	ShutdownTimeout Duration   `koanf:"shutdown_timeout"`
	RequestTimeout  Duration   `koanf:"request_timeout"`
	Streaming       bool       `koanf:"streaming"`
	CORS            CORSConfig `koanf:"cors"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// OpenAIConfig configures the embedding and completion provider.
type OpenAIConfig struct {
	APIKey          Secret  `koanf:"api_key"`
	BaseURL         string  `koanf:"base_url"`
	EmbeddingModel  string  `koanf:"embedding_model"`
	CompletionModel string  `koanf:"completion_model"`
	ResponseFormat  string  `koanf:"response_format"`
	RateLimit       float64 `koanf:"rate_limit"`
	Burst           int     `koanf:"burst"`
}

// IndexConfig selects the vector index and the corpus inside it.
type IndexConfig struct {
	Provider        string        `koanf:"provider"`
	Namespace       string        `koanf:"namespace"`
	TopK            int           `koanf:"top_k"`
	IncludeMetadata bool          `koanf:"include_metadata"`
	Qdrant          QdrantConfig  `koanf:"qdrant"`
	Chromem         ChromemConfig `koanf:"chromem"`
}

// QdrantConfig configures the remote Qdrant index (gRPC).
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey Secret `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`
}

// ChromemConfig configures the embedded chromem-go index.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// RetryConfig is the backoff policy for provider calls.
type RetryConfig struct {
	MaxRetries     int      `koanf:"max_retries"`
	InitialBackoff Duration `koanf:"initial_backoff"`
	MaxBackoff     Duration `koanf:"max_backoff"`
}

// Policy converts the configuration into a retry.Policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxRetries:     r.MaxRetries,
		InitialBackoff: r.InitialBackoff.Duration(),
		MaxBackoff:     r.MaxBackoff.Duration(),
	}
}

// ChatConfig bounds incoming requests.
type ChatConfig struct {
	MaxHistory   int    `koanf:"max_history"`
	MaxTextChars int    `koanf:"max_text_chars"`
	HistoryOrder string `koanf:"history_order"`
}

// PromptConfig points at an optional prompt template file.
type PromptConfig struct {
	TemplatePath string `koanf:"template_path"`
	Watch        bool   `koanf:"watch"`
}

// NATSConfig configures publication of request records. Empty URL disables it.
type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// MCPConfig toggles the MCP endpoint.
type MCPConfig struct {
	Enabled bool `koanf:"enabled"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	tel := telemetry.NewDefaultConfig()
	tel.ServiceName = "chatd"
	logCfg := logging.NewDefaultConfig()

	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
			RequestTimeout:  Duration(60 * time.Second),
			Streaming:       true,
			CORS: CORSConfig{
				AllowedOrigins: []string{"http://localhost:3000"},
			},
		},
		OpenAI: OpenAIConfig{
			EmbeddingModel:  "text-embedding-3-small",
			CompletionModel: "gpt-4o-mini",
			RateLimit:       5,
			Burst:           10,
		},
		Index: IndexConfig{
			Provider:        ProviderQdrant,
			Namespace:       "jfk-files",
			TopK:            4,
			IncludeMetadata: true,
			Qdrant: QdrantConfig{
				Host: "localhost",
				Port: 6334,
			},
			Chromem: ChromemConfig{
				Path:     "data/chromem",
				Compress: true,
			},
		},
		Retry: RetryConfig{
			MaxRetries:     2,
			InitialBackoff: Duration(250 * time.Millisecond),
			MaxBackoff:     Duration(4 * time.Second),
		},
		Chat: ChatConfig{
			MaxHistory:   50,
			MaxTextChars: 8000,
			HistoryOrder: OrderTextFirst,
		},
		NATS: NATSConfig{
			Subject: "chat.requests",
		},
		MCP:       MCPConfig{Enabled: true},
		Logging:   *logCfg,
		Telemetry: *tel,
	}
}

// Addr returns host:port for the HTTP listener.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RequestTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("server.request_timeout must be positive"))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}
	if n := len(c.Server.CORS.AllowedOrigins); n > maxCORSOrigins {
		errs = append(errs, fmt.Errorf("server.cors.allowed_origins allows at most %d origins, got %d", maxCORSOrigins, n))
	}
	for _, o := range c.Server.CORS.AllowedOrigins {
		if o == "*" {
			errs = append(errs, errors.New("server.cors.allowed_origins cannot contain a wildcard when credentials are allowed"))
			continue
		}
		if u, err := url.Parse(o); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.cors.allowed_origins: invalid origin %q", o))
		}
	}

	if !c.OpenAI.APIKey.IsSet() {
		errs = append(errs, errors.New("openai.api_key is required (or set OPENAI_API_KEY)"))
	}
	if c.OpenAI.EmbeddingModel == "" || c.OpenAI.CompletionModel == "" {
		errs = append(errs, errors.New("openai.embedding_model and openai.completion_model are required"))
	}
	switch c.OpenAI.ResponseFormat {
	case "", "text", "json_object":
	default:
		errs = append(errs, fmt.Errorf("openai.response_format must be text or json_object, got %q", c.OpenAI.ResponseFormat))
	}
	if c.OpenAI.RateLimit < 0 {
		errs = append(errs, errors.New("openai.rate_limit cannot be negative"))
	}

	switch c.Index.Provider {
	case ProviderQdrant:
		if c.Index.Qdrant.Host == "" {
			errs = append(errs, errors.New("index.qdrant.host is required"))
		}
	case ProviderChromem:
		if c.Index.Chromem.Path == "" {
			errs = append(errs, errors.New("index.chromem.path is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("index.provider must be %q or %q, got %q", ProviderQdrant, ProviderChromem, c.Index.Provider))
	}
	if strings.TrimSpace(c.Index.Namespace) == "" {
		errs = append(errs, errors.New("index.namespace is required"))
	}
	if c.Index.TopK < 1 {
		errs = append(errs, fmt.Errorf("index.top_k must be >= 1, got %d", c.Index.TopK))
	}

	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries cannot be negative"))
	}
	if c.Retry.MaxBackoff < c.Retry.InitialBackoff {
		errs = append(errs, errors.New("retry.max_backoff must be >= retry.initial_backoff"))
	}

	if c.Chat.MaxHistory < 0 || c.Chat.MaxTextChars < 0 {
		errs = append(errs, errors.New("chat limits cannot be negative"))
	}
	if c.Chat.HistoryOrder != OrderTextFirst && c.Chat.HistoryOrder != OrderHistoryFirst {
		errs = append(errs, fmt.Errorf("chat.history_order must be %q or %q", OrderTextFirst, OrderHistoryFirst))
	}

	if c.Prompt.Watch && c.Prompt.TemplatePath == "" {
		errs = append(errs, errors.New("prompt.watch requires prompt.template_path"))
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		errs = append(errs, errors.New("nats.subject is required when nats.url is set"))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	return errors.Join(errs...)
}
