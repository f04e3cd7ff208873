package rag

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/voynow/chat-with-jfk-files/internal/logging"
)

const instrumentationName = "github.com/voynow/chat-with-jfk-files/internal/rag"

// HistoryOrder controls how the similarity query is assembled.
type HistoryOrder int

const (
	// TextFirst puts the current text before the history turns.
	TextFirst HistoryOrder = iota
	// HistoryFirst puts the history turns, oldest first, before the text.
	HistoryFirst
)

// SimilarityText joins the query text and chat history with newlines. Every
// turn contributes equally; nothing is truncated or weighted.
func SimilarityText(q Query, order HistoryOrder) string {
	parts := make([]string, 0, len(q.ChatHistory)+1)
	if order == HistoryFirst {
		parts = append(parts, q.ChatHistory...)
		parts = append(parts, q.Text)
	} else {
		parts = append(parts, q.Text)
		parts = append(parts, q.ChatHistory...)
	}
	return strings.Join(parts, "\n")
}

// Retriever embeds a query and looks up its nearest documents.
type Retriever struct {
	embedder        Embedder
	index           Index
	order           HistoryOrder
	includeMetadata bool
	logger          *logging.Logger
	metrics         *Metrics
	tracer          trace.Tracer
	now             func() time.Time
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithHistoryOrder sets the similarity query ordering.
func WithHistoryOrder(o HistoryOrder) RetrieverOption {
	return func(r *Retriever) { r.order = o }
}

// WithoutMetadata asks the index for vectors only. Matches then carry no path
// or text.
func WithoutMetadata() RetrieverOption {
	return func(r *Retriever) { r.includeMetadata = false }
}

// WithRetrieverLogger sets the logger.
func WithRetrieverLogger(l *logging.Logger) RetrieverOption {
	return func(r *Retriever) { r.logger = l }
}

// WithRetrieverMetrics sets the metrics sink.
func WithRetrieverMetrics(m *Metrics) RetrieverOption {
	return func(r *Retriever) { r.metrics = m }
}

// NewRetriever creates a Retriever.
func NewRetriever(embedder Embedder, index Index, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		embedder:        embedder,
		index:           index,
		includeMetadata: true,
		logger:          logging.NewNop(),
		tracer:          otel.Tracer(instrumentationName),
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to topK documents from namespace for q, in index order.
func (r *Retriever) Retrieve(ctx context.Context, q Query, namespace string, topK int) (docs []DocumentMatch, err error) {
	ctx, span := r.tracer.Start(ctx, "Retriever.Retrieve",
		trace.WithAttributes(
			attribute.String("namespace", namespace),
			attribute.Int("top_k", topK),
			attribute.Int("history_turns", len(q.ChatHistory)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if topK < 1 {
		return nil, Validation("top_k must be >= 1, got %d", topK)
	}

	start := r.now()
	text := SimilarityText(q, r.order)

	vector, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return nil, classified("embed", err)
	}

	trackerFrom(ctx).enter(ctx, StateRetrieving)

	docs, err = r.index.Query(ctx, vector, namespace, topK, r.includeMetadata)
	if err != nil {
		return nil, classified("index query", err)
	}
	if len(docs) > topK {
		docs = docs[:topK]
	}

	elapsed := r.now().Sub(start)
	r.metrics.observeRetrieval(elapsed, len(docs))
	r.logger.Debug(ctx, "retrieval finished",
		zap.String("namespace", namespace),
		zap.Int("documents", len(docs)),
		zap.Int("query_chars", len(text)),
		zap.Duration("elapsed", elapsed),
	)
	span.SetAttributes(attribute.Int("documents", len(docs)))
	return docs, nil
}

// classified leaves taxonomy and context errors alone and treats anything
// else as an upstream failure.
func classified(op string, err error) error {
	if Classify(err) != KindUnknown {
		return err
	}
	return Upstream(op, err)
}
