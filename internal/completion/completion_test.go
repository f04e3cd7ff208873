package completion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/voynow/chat-with-jfk-files/internal/rag"
	"github.com/voynow/chat-with-jfk-files/internal/retry"
)

// attempt scripts one GenerateContent call: chunks are streamed, then err is
// returned.
type attempt struct {
	chunks []string
	err    error
}

type fakeLLM struct {
	mu       sync.Mutex
	attempts []attempt
	calls    int
	jsonMode bool
	prompts  []string
	block    chan struct{}
}

func (f *fakeLLM) next() attempt {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.attempts) == 0 {
		return attempt{}
	}
	a := f.attempts[0]
	f.attempts = f.attempts[1:]
	return a
}

func (f *fakeLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	f.mu.Lock()
	f.jsonMode = opts.JSONMode
	for _, m := range messages {
		for _, p := range m.Parts {
			if tc, ok := p.(llms.TextContent); ok {
				f.prompts = append(f.prompts, tc.Text)
			}
		}
	}
	f.mu.Unlock()

	a := f.next()
	var full string
	for _, c := range a.chunks {
		full += c
		if opts.StreamingFunc != nil {
			if err := opts.StreamingFunc(ctx, []byte(c)); err != nil {
				return nil, err
			}
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: full}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func newTestClient(t *testing.T, llm *fakeLLM, format string) *Client {
	t.Helper()
	c, err := New(Config{
		APIKey:         "sk-test",
		Model:          "gpt-4o-mini",
		ResponseFormat: format,
		Retry:          retry.Policy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}, WithLLM(llm))
	require.NoError(t, err)
	return c
}

func collect(ch <-chan rag.Chunk) (texts []string, err error) {
	for c := range ch {
		if c.Err != nil {
			err = c.Err
			continue
		}
		texts = append(texts, c.Text)
	}
	return texts, err
}

var (
	errUnavailable = errors.New("API returned unexpected status code: 503")
	errBadRequest  = errors.New("API returned unexpected status code: 400")
)

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{APIKey: "k", Model: "m"}.Validate())
	assert.NoError(t, Config{APIKey: "k", Model: "m", ResponseFormat: FormatJSON}.Validate())
	assert.Error(t, Config{Model: "m"}.Validate())
	assert.Error(t, Config{APIKey: "k"}.Validate())
	assert.Error(t, Config{APIKey: "k", Model: "m", ResponseFormat: "xml"}.Validate())
}

func TestClient_Complete(t *testing.T) {
	llm := &fakeLLM{attempts: []attempt{{chunks: []string{"Lee ", "Harvey ", "Oswald"}}}}
	c := newTestClient(t, llm, "")

	text, err := c.Complete(context.Background(), "who?")
	require.NoError(t, err)
	assert.Equal(t, "Lee Harvey Oswald", text)
	assert.Equal(t, []string{"who?"}, llm.prompts)
	assert.False(t, llm.jsonMode)
}

func TestClient_CompleteJSONMode(t *testing.T) {
	llm := &fakeLLM{attempts: []attempt{{chunks: []string{`{"a":1}`}}}}
	c := newTestClient(t, llm, FormatJSON)

	_, err := c.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.True(t, llm.jsonMode)
}

func TestClient_CompleteRetriesTransient(t *testing.T) {
	llm := &fakeLLM{attempts: []attempt{{err: errUnavailable}, {chunks: []string{"ok"}}}}
	c := newTestClient(t, llm, "")

	text, err := c.Complete(context.Background(), "p")
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, llm.calls)
}

func TestClient_CompleteErrors(t *testing.T) {
	t.Run("rejected input", func(t *testing.T) {
		llm := &fakeLLM{attempts: []attempt{{err: errBadRequest}}}
		_, err := newTestClient(t, llm, "").Complete(context.Background(), "p")
		assert.ErrorIs(t, err, rag.ErrModel)
		assert.Equal(t, 1, llm.calls)
	})
	t.Run("empty answer", func(t *testing.T) {
		llm := &fakeLLM{attempts: []attempt{{chunks: []string{"  "}}}}
		_, err := newTestClient(t, llm, "").Complete(context.Background(), "p")
		assert.ErrorIs(t, err, rag.ErrModel)
		assert.ErrorIs(t, err, rag.ErrEmptyCompletion)
	})
	t.Run("unavailable", func(t *testing.T) {
		llm := &fakeLLM{attempts: []attempt{{err: errUnavailable}, {err: errUnavailable}, {err: errUnavailable}}}
		_, err := newTestClient(t, llm, "").Complete(context.Background(), "p")
		assert.ErrorIs(t, err, rag.ErrUpstream)
		assert.Equal(t, 3, llm.calls)
	})
}

func TestClient_Stream(t *testing.T) {
	llm := &fakeLLM{attempts: []attempt{{chunks: []string{"The ", "", "Warren ", "Commission"}}}}
	c := newTestClient(t, llm, "")

	texts, err := collect(c.Stream(context.Background(), "p"))
	require.NoError(t, err)
	assert.Equal(t, []string{"The ", "Warren ", "Commission"}, texts)
}

func TestClient_StreamRetriesBeforeFirstChunk(t *testing.T) {
	llm := &fakeLLM{attempts: []attempt{{err: errUnavailable}, {chunks: []string{"a", "b"}}}}
	c := newTestClient(t, llm, "")

	texts, err := collect(c.Stream(context.Background(), "p"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, texts)
	assert.Equal(t, 2, llm.calls)
}

func TestClient_StreamNoRetryAfterFirstChunk(t *testing.T) {
	llm := &fakeLLM{attempts: []attempt{
		{chunks: []string{"partial"}, err: errUnavailable},
		{chunks: []string{"never"}},
	}}
	c := newTestClient(t, llm, "")

	texts, err := collect(c.Stream(context.Background(), "p"))
	assert.Equal(t, []string{"partial"}, texts)
	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrUpstream)
	assert.Equal(t, 1, llm.calls)
}

func TestClient_StreamCanceled(t *testing.T) {
	llm := &fakeLLM{
		attempts: []attempt{{chunks: []string{"first"}}},
		block:    make(chan struct{}),
	}
	c := newTestClient(t, llm, "")

	ctx, cancel := context.WithCancel(context.Background())
	ch := c.Stream(ctx, "p")

	first := <-ch
	assert.Equal(t, "first", first.Text)
	cancel()

	done := make(chan struct{})
	go func() {
		for range ch {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after cancel")
	}
}
