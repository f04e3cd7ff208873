package rag

import (
	"context"
	"sync"
	"time"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	texts []string
	vec   []float32
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type indexCall struct {
	vector    []float32
	namespace string
	topK      int
	metadata  bool
}

type fakeIndex struct {
	mu    sync.Mutex
	docs  []DocumentMatch
	err   error
	calls []indexCall
}

func (f *fakeIndex) Query(_ context.Context, vector []float32, namespace string, topK int, includeMetadata bool) ([]DocumentMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, indexCall{vector, namespace, topK, includeMetadata})
	if f.err != nil {
		return nil, f.err
	}
	return append([]DocumentMatch(nil), f.docs...), nil
}

// echoComposer renders only the query text so fakes can see which request a
// prompt belongs to.
type echoComposer struct {
	mu     sync.Mutex
	inputs []PromptInput
}

func (c *echoComposer) Compose(in PromptInput) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = append(c.inputs, in)
	return in.QueryText
}

// scriptedCompleter replays script on every Stream call. An error chunk ends
// the stream. With block set, the producer waits for ctx after the script.
type scriptedCompleter struct {
	script      []Chunk
	block       bool
	completion  string
	completeErr error

	mu      sync.Mutex
	prompts []string
	stopped chan struct{}
}

func (s *scriptedCompleter) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	return s.completion, s.completeErr
}

func (s *scriptedCompleter) Stream(ctx context.Context, prompt string) <-chan Chunk {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	if s.stopped == nil {
		s.stopped = make(chan struct{})
	}
	stopped := s.stopped
	s.mu.Unlock()

	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		for _, c := range s.script {
			select {
			case ch <- c:
			case <-ctx.Done():
				close(stopped)
				return
			}
			if c.Err != nil {
				return
			}
		}
		if s.block {
			<-ctx.Done()
			close(stopped)
		}
	}()
	return ch
}

// wordCompleter streams the prompt back one word at a time.
type wordCompleter struct{}

func (wordCompleter) Complete(_ context.Context, prompt string) (string, error) {
	return prompt, nil
}

func (wordCompleter) Stream(ctx context.Context, prompt string) <-chan Chunk {
	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		for i, w := range splitKeep(prompt) {
			if i%2 == 0 {
				time.Sleep(time.Millisecond)
			}
			select {
			case ch <- Chunk{Text: w}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// splitKeep splits after each space so the pieces rejoin to s.
func splitKeep(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == ' ' {
			out = append(out, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

type recordSink struct {
	mu      sync.Mutex
	records []Record
}

func (r *recordSink) Record(_ context.Context, rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordSink) all() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// stepClock advances by step on every call.
type stepClock struct {
	mu   sync.Mutex
	t    time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.t
	c.t = c.t.Add(c.step)
	return now
}

func collect(ch <-chan Event) []Event {
	var out []Event
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}
