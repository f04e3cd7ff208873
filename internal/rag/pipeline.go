package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voynow/chat-with-jfk-files/internal/logging"
)

// DateLayout formats the {today} prompt field.
const DateLayout = "January 2, 2006"

const (
	modeStream = "stream"
	modeSync   = "sync"
)

// Settings are the per-deployment knobs of the pipeline.
type Settings struct {
	Namespace string
	TopK      int
	Limits    Limits
}

// Pipeline runs chat requests end to end. It holds no per-request state and
// is safe for concurrent use.
type Pipeline struct {
	retriever *Retriever
	composer  Composer
	completer Completer
	settings  Settings

	recorder Recorder
	metrics  *Metrics
	logger   *logging.Logger
	now      func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRecorder reports finished requests to rec.
func WithRecorder(rec Recorder) PipelineOption {
	return func(p *Pipeline) { p.recorder = rec }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a Pipeline.
func NewPipeline(retriever *Retriever, composer Composer, completer Completer, settings Settings, opts ...PipelineOption) (*Pipeline, error) {
	if retriever == nil || composer == nil || completer == nil {
		return nil, errors.New("rag: retriever, composer and completer are required")
	}
	if strings.TrimSpace(settings.Namespace) == "" {
		return nil, errors.New("rag: namespace is required")
	}
	if settings.TopK < 1 {
		return nil, fmt.Errorf("rag: top_k must be >= 1, got %d", settings.TopK)
	}

	p := &Pipeline{
		retriever: retriever,
		composer:  composer,
		completer: completer,
		settings:  settings,
		recorder:  nopRecorder{},
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Retrieve runs only the retrieval half of the pipeline.
func (p *Pipeline) Retrieve(ctx context.Context, q Query) ([]DocumentMatch, error) {
	if err := q.Validate(p.settings.Limits); err != nil {
		return nil, err
	}
	return p.retriever.Retrieve(ctx, q, p.settings.Namespace, p.settings.TopK)
}

// Stream starts a streaming request.
//
// Validation, retrieval, composition and the wait for the first completion
// chunk happen before Stream returns; a failure in any of them is returned as
// the error. Otherwise the returned channel yields Content events followed by
// Stats and Documents, or ends with a single Error event. The channel is
// closed after the last event. Canceling ctx aborts the upstream stream.
func (p *Pipeline) Stream(ctx context.Context, q Query) (<-chan Event, error) {
	start := p.now()
	tr := &tracker{logger: p.logger, state: StateReceived}
	ctx = withTracker(ctx, tr)

	docs, prompt, err := p.prepare(ctx, q, tr)
	if err != nil {
		p.finish(ctx, tr, modeStream, start, docs, err)
		return nil, err
	}

	tr.enter(ctx, StateStreaming)
	chunks := p.completer.Stream(ctx, prompt)

	first, err := firstChunk(ctx, chunks)
	if err != nil {
		go drain(chunks)
		p.finish(ctx, tr, modeStream, start, docs, err)
		return nil, err
	}
	p.metrics.observeFirstChunk(p.now().Sub(start))

	out := make(chan Event)
	go p.relay(ctx, tr, start, first, chunks, docs, out)
	return out, nil
}

// relay forwards chunks as Content events and closes out when done.
func (p *Pipeline) relay(ctx context.Context, tr *tracker, start time.Time, first string, chunks <-chan Chunk, docs []DocumentMatch, out chan<- Event) {
	defer close(out)

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		go drain(chunks)
		send(Event{Kind: EventError, Err: err})
		p.finish(ctx, tr, modeStream, start, docs, err)
	}

	if !send(Event{Kind: EventContent, Content: first}) {
		fail(ctx.Err())
		return
	}
	p.metrics.incChunks()

	for c := range chunks {
		if c.Err != nil {
			fail(Interrupted(c.Err))
			return
		}
		if c.Text == "" {
			continue
		}
		p.logger.Trace(ctx, "stream chunk", zap.Int("bytes", len(c.Text)))
		if !send(Event{Kind: EventContent, Content: c.Text}) {
			fail(ctx.Err())
			return
		}
		p.metrics.incChunks()
	}

	// A producer may close without an error chunk when ctx ends.
	if err := ctx.Err(); err != nil {
		fail(err)
		return
	}

	elapsed := p.now().Sub(start)
	if !send(Event{Kind: EventStats, Elapsed: elapsed}) || !send(Event{Kind: EventDocuments, Documents: docs}) {
		fail(ctx.Err())
		return
	}
	p.finish(ctx, tr, modeStream, start, docs, nil)
}

// Answer runs a request without streaming and returns the full answer.
func (p *Pipeline) Answer(ctx context.Context, q Query) (*Answer, error) {
	start := p.now()
	tr := &tracker{logger: p.logger, state: StateReceived}
	ctx = withTracker(ctx, tr)

	docs, prompt, err := p.prepare(ctx, q, tr)
	if err != nil {
		p.finish(ctx, tr, modeSync, start, docs, err)
		return nil, err
	}

	tr.enter(ctx, StateStreaming)
	text, err := p.completer.Complete(ctx, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = fmt.Errorf("%w: %w", ErrModel, ErrEmptyCompletion)
	}
	if err != nil {
		err = classified("complete", err)
		p.finish(ctx, tr, modeSync, start, docs, err)
		return nil, err
	}

	elapsed := p.now().Sub(start)
	p.finish(ctx, tr, modeSync, start, docs, nil)
	return &Answer{Text: text, Documents: docs, Elapsed: elapsed}, nil
}

func (p *Pipeline) prepare(ctx context.Context, q Query, tr *tracker) ([]DocumentMatch, string, error) {
	if err := q.Validate(p.settings.Limits); err != nil {
		return nil, "", err
	}

	tr.enter(ctx, StateEmbedding)
	docs, err := p.retriever.Retrieve(ctx, q, p.settings.Namespace, p.settings.TopK)
	if err != nil {
		return nil, "", err
	}

	tr.enter(ctx, StateComposing)
	prompt := p.composer.Compose(PromptInput{
		Today:       p.now().Format(DateLayout),
		ChatHistory: q.ChatHistory,
		QueryText:   q.Text,
		Documents:   docs,
	})
	return docs, prompt, nil
}

// finish logs, measures and records the end of a request.
func (p *Pipeline) finish(ctx context.Context, tr *tracker, mode string, start time.Time, docs []DocumentMatch, err error) {
	elapsed := p.now().Sub(start)
	failedIn := tr.current()

	outcome := OutcomeCompleted
	kind := Classify(err)
	switch {
	case err == nil:
		tr.enter(ctx, StateCompleted)
	case kind == KindCanceled:
		outcome = OutcomeCanceled
		tr.enter(ctx, StateFailed)
	default:
		outcome = OutcomeFailed
		tr.enter(ctx, StateFailed)
	}

	paths := make([]string, 0, len(docs))
	for _, d := range docs {
		paths = append(paths, d.Path)
	}

	fields := []zap.Field{
		zap.String("mode", mode),
		zap.String("namespace", p.settings.Namespace),
		zap.Int("documents", len(docs)),
		zap.Duration("elapsed", elapsed),
	}
	rec := Record{
		SessionID: logging.SessionIDFromContext(ctx),
		RequestID: logging.RequestIDFromContext(ctx),
		Namespace: p.settings.Namespace,
		Mode:      mode,
		Outcome:   outcome,
		Elapsed:   elapsed,
		Documents: paths,
	}

	switch outcome {
	case OutcomeCompleted:
		p.logger.Info(ctx, "chat request completed", fields...)
	default:
		rec.ErrorKind = kind.String()
		rec.Error = err.Error()
		fields = append(fields,
			zap.String("failed_in", string(failedIn)),
			zap.String("error_kind", kind.String()),
			zap.Error(err),
		)
		if kind == KindValidation || kind == KindCanceled {
			p.logger.Warn(ctx, "chat request failed", fields...)
		} else {
			p.logger.Error(ctx, "chat request failed", fields...)
		}
	}

	p.metrics.observeRequest(mode, outcome, kind, elapsed)
	p.recorder.Record(context.WithoutCancel(ctx), rec)
}

// firstChunk waits for the first non-empty chunk.
func firstChunk(ctx context.Context, chunks <-chan Chunk) (string, error) {
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				if err := ctx.Err(); err != nil {
					return "", err
				}
				return "", fmt.Errorf("%w: %w", ErrModel, ErrEmptyCompletion)
			}
			if c.Err != nil {
				return "", classified("complete", c.Err)
			}
			if c.Text != "" {
				return c.Text, nil
			}
		}
	}
}

func drain(chunks <-chan Chunk) {
	for range chunks {
	}
}
