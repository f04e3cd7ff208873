package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voynow/chat-with-jfk-files/internal/logging"
	"github.com/voynow/chat-with-jfk-files/internal/rag"
)

type fakeChat struct {
	events    []rag.Event
	streamErr error
	answer    *rag.Answer
	answerErr error
	// hold keeps the stream open until ctx ends.
	hold bool

	gotQuery rag.Query
	gotCtx   context.Context
}

func (f *fakeChat) Stream(ctx context.Context, q rag.Query) (<-chan rag.Event, error) {
	f.gotQuery, f.gotCtx = q, ctx
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	out := make(chan rag.Event)
	go func() {
		defer close(out)
		for _, ev := range f.events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		if f.hold {
			<-ctx.Done()
		}
	}()
	return out, nil
}

func (f *fakeChat) Answer(ctx context.Context, q rag.Query) (*rag.Answer, error) {
	f.gotQuery, f.gotCtx = q, ctx
	return f.answer, f.answerErr
}

func setupTestServer(t *testing.T, chat Chatter, mutate func(*Config), opts ...Option) *Server {
	t.Helper()
	cfg := &Config{
		Host:           "localhost",
		Port:           8000,
		RequestTimeout: 5 * time.Second,
		Streaming:      true,
		AllowedOrigins: []string{"http://localhost:3000", "https://jfk.example.com"},
		SessionID:      "6f1c2d1e-0000-4000-8000-000000000001",
	}
	if mutate != nil {
		mutate(cfg)
	}
	s, err := NewServer(chat, logging.NewNop(), cfg, opts...)
	require.NoError(t, err)
	return s
}

func post(t *testing.T, s *Server, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// frames splits an SSE body into payloads, rejoining multi-line data fields.
func frames(body string) []string {
	var out []string
	for _, block := range strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n") {
		var lines []string
		for _, l := range strings.Split(block, "\n") {
			lines = append(lines, strings.TrimPrefix(l, "data: "))
		}
		out = append(out, strings.Join(lines, "\n"))
	}
	return out
}

func TestNewServer(t *testing.T) {
	t.Run("requires pipeline", func(t *testing.T) {
		_, err := NewServer(nil, logging.NewNop(), nil)
		assert.Error(t, err)
	})
	t.Run("requires logger", func(t *testing.T) {
		_, err := NewServer(&fakeChat{}, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})
	t.Run("defaults", func(t *testing.T) {
		s, err := NewServer(&fakeChat{}, logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, 8000, s.config.Port)
		assert.True(t, s.config.Streaming)
	})
	t.Run("rejects more than two origins", func(t *testing.T) {
		_, err := NewServer(&fakeChat{}, logging.NewNop(), &Config{AllowedOrigins: []string{"a", "b", "c"}})
		assert.Error(t, err)
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		s := setupTestServer(t, &fakeChat{}, nil)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "6f1c2d1e-0000-4000-8000-000000000001", resp.Session)
	})
	t.Run("degraded", func(t *testing.T) {
		s := setupTestServer(t, &fakeChat{}, nil, WithHealthCheck(func(context.Context) error {
			return rag.Upstream("qdrant health", errors.New("connection refused"))
		}))
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
		assert.NotContains(t, rec.Body.String(), "connection refused")
	})
}

func TestHandleChat_Stream(t *testing.T) {
	chat := &fakeChat{events: []rag.Event{
		{Kind: rag.EventContent, Content: "Oswald "},
		{Kind: rag.EventContent, Content: "acted\n\nalone."},
		{Kind: rag.EventStats, Elapsed: 1234 * time.Millisecond},
		{Kind: rag.EventDocuments, Documents: []rag.DocumentMatch{{Path: "a.pdf", Text: "<memo>"}}},
	}}
	s := setupTestServer(t, chat, nil)

	rec := post(t, s, "/chat", `{"text":"Who did it?","chat_history":["hi"]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Contains(t, rec.Body.String(), "data: acted\ndata: \ndata: alone.\n\n")
	assert.Equal(t, []string{
		"Oswald ",
		"acted\n\nalone.",
		"[STATS] 1.23s",
		`[DOCS] [{"path":"a.pdf","text":"<memo>"}]`,
	}, frames(rec.Body.String()))

	assert.Equal(t, rag.Query{Text: "Who did it?", ChatHistory: []string{"hi"}}, chat.gotQuery)
	assert.NotEmpty(t, logging.RequestIDFromContext(chat.gotCtx))
	assert.Equal(t, "6f1c2d1e-0000-4000-8000-000000000001", logging.SessionIDFromContext(chat.gotCtx))
}

func TestHandleChat_StreamLineTerminators(t *testing.T) {
	chat := &fakeChat{events: []rag.Event{
		{Kind: rag.EventContent, Content: "line1\r\nline2"},
		{Kind: rag.EventContent, Content: "a\rb"},
		{Kind: rag.EventContent, Content: "c\r\n\rd"},
	}}
	s := setupTestServer(t, chat, nil)

	rec := post(t, s, "/chat", `{"text":"Who did it?"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.NotContains(t, body, "\r")
	assert.Equal(t,
		"data: line1\ndata: line2\n\n"+
			"data: a\ndata: b\n\n"+
			"data: c\ndata: \ndata: d\n\n",
		body)
	assert.Equal(t, []string{"line1\nline2", "a\nb", "c\n\nd"}, frames(body))
}

func TestHandleChat_MidStreamError(t *testing.T) {
	chat := &fakeChat{events: []rag.Event{
		{Kind: rag.EventContent, Content: "partial"},
		{Kind: rag.EventError, Err: rag.Interrupted(errors.New("connection reset"))},
	}}
	s := setupTestServer(t, chat, nil)

	rec := post(t, s, "/chat", `{"text":"q"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"partial", "[ERROR] the answer stream was interrupted"}, frames(rec.Body.String()))
}

func TestHandleChat_Deadline(t *testing.T) {
	chat := &fakeChat{
		events: []rag.Event{{Kind: rag.EventContent, Content: "slow"}},
		hold:   true,
	}
	s := setupTestServer(t, chat, func(c *Config) { c.RequestTimeout = 50 * time.Millisecond })

	rec := post(t, s, "/chat", `{"text":"q"}`)

	assert.Equal(t, []string{"slow", "[ERROR] the request timed out"}, frames(rec.Body.String()))
}

func TestHandleChat_ErrorsBeforeStreaming(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"malformed body", `{"text":`, nil, http.StatusBadRequest},
		{"validation", `{"text":"  "}`, rag.Validation("text is required"), http.StatusBadRequest},
		{"model", `{"text":"q"}`, rag.Model("complete", errors.New("too long")), http.StatusUnprocessableEntity},
		{"upstream", `{"text":"q"}`, rag.Upstream("embed", errors.New("401")), http.StatusBadGateway},
		{"deadline", `{"text":"q"}`, rag.Upstream("embed", context.DeadlineExceeded), http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestServer(t, &fakeChat{streamErr: tt.err}, nil)
			rec := post(t, s, "/chat", tt.body)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, echo.MIMEApplicationJSON, strings.Split(rec.Header().Get(echo.HeaderContentType), ";")[0])
			assert.NotContains(t, rec.Body.String(), "data:")
		})
	}
}

func TestHandleChat_NonStreamingMode(t *testing.T) {
	chat := &fakeChat{answer: &rag.Answer{Text: "It was Oswald."}}
	s := setupTestServer(t, chat, func(c *Config) { c.Streaming = false })

	rec := post(t, s, "/chat", `{"text":"q"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	var got string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "It was Oswald.", got)
}

func TestHandleChatSync(t *testing.T) {
	t.Run("answer", func(t *testing.T) {
		chat := &fakeChat{answer: &rag.Answer{Text: "Answer."}}
		s := setupTestServer(t, chat, nil)

		rec := post(t, s, "/chat/sync", `{"text":"q","chat_history":["a","b"]}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `"Answer."`, rec.Body.String())
		assert.Equal(t, []string{"a", "b"}, chat.gotQuery.ChatHistory)
	})
	t.Run("model error", func(t *testing.T) {
		chat := &fakeChat{answerErr: rag.Model("complete", rag.ErrEmptyCompletion)}
		s := setupTestServer(t, chat, nil)

		rec := post(t, s, "/chat/sync", `{"text":"q"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "the model rejected the request")
	})
}

func TestCORS(t *testing.T) {
	s := setupTestServer(t, &fakeChat{}, nil)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(echo.HeaderOrigin, "https://jfk.example.com")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, "https://jfk.example.com", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
		assert.Equal(t, "true", rec.Header().Get(echo.HeaderAccessControlAllowCredentials))
	})
	t.Run("other origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(echo.HeaderOrigin, "https://evil.example.com")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	})
	t.Run("preflight reflects headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
		req.Header.Set(echo.HeaderOrigin, "http://localhost:3000")
		req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
		req.Header.Set(echo.HeaderAccessControlRequestHeaders, "Content-Type, X-Custom")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "Content-Type, X-Custom", rec.Header().Get(echo.HeaderAccessControlAllowHeaders))
	})
	t.Run("no origins configured", func(t *testing.T) {
		closed := setupTestServer(t, &fakeChat{}, func(c *Config) { c.AllowedOrigins = nil })
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(echo.HeaderOrigin, "https://jfk.example.com")
		rec := httptest.NewRecorder()
		closed.Handler().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	})
}

func TestOptionalRoutes(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	mcp := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	s := setupTestServer(t, &fakeChat{}, nil, WithMetricsHandler(metrics), WithMCPHandler(mcp))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, "# metrics", rec.Body.String())

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	bare := setupTestServer(t, &fakeChat{}, nil)
	rec = httptest.NewRecorder()
	bare.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{rag.Validation("bad"), http.StatusBadRequest},
		{rag.Model("complete", errors.New("x")), http.StatusUnprocessableEntity},
		{rag.Upstream("embed", errors.New("x")), http.StatusBadGateway},
		{rag.Interrupted(errors.New("x")), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{context.Canceled, statusClientClosed},
		{errors.New("?"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}
