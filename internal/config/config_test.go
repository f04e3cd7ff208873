package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.OpenAI.APIKey = "sk-test"
	return cfg
}

func TestDefault_IsValidWithCredential(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 4, cfg.Index.TopK)
	assert.Equal(t, "text-embedding-3-small", cfg.OpenAI.EmbeddingModel)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.CompletionModel)
	assert.Equal(t, 60*time.Second, cfg.Server.RequestTimeout.Duration())
	assert.True(t, cfg.Server.Streaming)
	assert.Equal(t, "0.0.0.0:8000", cfg.Server.Addr())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing api key", func(c *Config) { c.OpenAI.APIKey = "" }, "openai.api_key"},
		{"zero top_k", func(c *Config) { c.Index.TopK = 0 }, "index.top_k"},
		{"blank namespace", func(c *Config) { c.Index.Namespace = "  " }, "index.namespace"},
		{"unknown provider", func(c *Config) { c.Index.Provider = "pinecone" }, "index.provider"},
		{"three origins", func(c *Config) {
			c.Server.CORS.AllowedOrigins = []string{"https://a.com", "https://b.com", "https://c.com"}
		}, "at most 2 origins"},
		{"wildcard origin", func(c *Config) { c.Server.CORS.AllowedOrigins = []string{"*"} }, "wildcard"},
		{"origin without scheme", func(c *Config) { c.Server.CORS.AllowedOrigins = []string{"example.com"} }, "invalid origin"},
		{"zero request timeout", func(c *Config) { c.Server.RequestTimeout = 0 }, "server.request_timeout"},
		{"bad response format", func(c *Config) { c.OpenAI.ResponseFormat = "xml" }, "openai.response_format"},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }, "retry.max_retries"},
		{"inverted backoff", func(c *Config) { c.Retry.MaxBackoff = Duration(time.Millisecond) }, "retry.max_backoff"},
		{"bad history order", func(c *Config) { c.Chat.HistoryOrder = "random" }, "chat.history_order"},
		{"watch without path", func(c *Config) { c.Prompt.Watch = true }, "prompt.watch"},
		{"chromem without path", func(c *Config) {
			c.Index.Provider = ProviderChromem
			c.Index.Chromem.Path = ""
		}, "index.chromem.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Index.TopK = 0
	cfg.Index.Namespace = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index.top_k")
	assert.Contains(t, err.Error(), "index.namespace")
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatd.yaml")
	yamlContent := `server:
  port: 9000
  request_timeout: 20s
  cors:
    allowed_origins:
      - https://jfk-files.ai
      - http://localhost:3000
openai:
  api_key: sk-from-file
index:
  provider: chromem
  namespace: release-2025
  top_k: 3
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0o600))

	t.Setenv("CHATD_INDEX__TOP_K", "5")
	t.Setenv("CHATD_SERVER__STREAMING", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 20*time.Second, cfg.Server.RequestTimeout.Duration())
	assert.Equal(t, []string{"https://jfk-files.ai", "http://localhost:3000"}, cfg.Server.CORS.AllowedOrigins)
	assert.Equal(t, "sk-from-file", cfg.OpenAI.APIKey.Value())
	assert.Equal(t, ProviderChromem, cfg.Index.Provider)
	assert.Equal(t, "release-2025", cfg.Index.Namespace)
	assert.Equal(t, 5, cfg.Index.TopK, "env overrides file")
	assert.False(t, cfg.Server.Streaming)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAI.CompletionModel, "defaults survive")
}

func TestLoad_ProviderKeyFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("QDRANT_API_KEY", "qd-env")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.OpenAI.APIKey.Value())
	assert.Equal(t, "qd-env", cfg.Index.Qdrant.APIKey.Value())
}

func TestLoad_InvalidConfigFails(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("CHATD_INDEX__TOP_K", "0")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index.top_k")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open config file")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "index.top_k", envKey("CHATD_INDEX__TOP_K"))
	assert.Equal(t, "server.cors.allowed_origins", envKey("CHATD_SERVER__CORS__ALLOWED_ORIGINS"))
	assert.Equal(t, "openai.api_key", envKey("CHATD_OPENAI__API_KEY"))
}

func TestSecret_NeverPrints(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-live")

	b, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "sk-live")

	assert.Equal(t, "sk-live-123", s.Value())
	assert.Equal(t, "", Secret("").String())
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.NoError(t, d.UnmarshalText([]byte("45")))
	assert.Equal(t, 45*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))
}
