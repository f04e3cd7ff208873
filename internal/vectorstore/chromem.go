package vectorstore

import (
	"context"
	"errors"
	"fmt"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/voynow/chat-with-jfk-files/internal/rag"
)

// ErrCollectionNotFound is returned when a namespace has no collection.
var ErrCollectionNotFound = errors.New("collection not found")

// Document is one excerpt stored in a chromem collection.
type Document struct {
	ID        string
	Path      string
	Text      string
	Embedding []float32
}

// ChromemIndex queries an embedded chromem-go database.
type ChromemIndex struct {
	db *chromem.DB
}

var _ rag.Index = (*ChromemIndex)(nil)

// OpenChromem opens (or creates) a persistent database at path.
func OpenChromem(path string, compress bool) (*ChromemIndex, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem db: %w", err)
	}
	return &ChromemIndex{db: db}, nil
}

// NewChromemIndex wraps an existing database.
func NewChromemIndex(db *chromem.DB) *ChromemIndex {
	return &ChromemIndex{db: db}
}

// Vectors always come from the caller. Passing nil to chromem would install
// its OpenAI default for persisted collections.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem index requires precomputed embeddings")
}

// Add stores docs in the namespace collection, creating it if needed.
func (c *ChromemIndex) Add(ctx context.Context, namespace string, docs []Document) error {
	if err := ValidateNamespace(namespace); err != nil {
		return err
	}
	col, err := c.db.GetOrCreateCollection(namespace, nil, noEmbedding)
	if err != nil {
		return fmt.Errorf("opening collection %s: %w", namespace, err)
	}
	batch := make([]chromem.Document, len(docs))
	for i, d := range docs {
		batch[i] = chromem.Document{
			ID:        d.ID,
			Metadata:  map[string]string{PayloadPath: d.Path},
			Content:   d.Text,
			Embedding: d.Embedding,
		}
	}
	return col.AddDocuments(ctx, batch, 1)
}

// Query returns up to topK matches for vector in the namespace collection.
func (c *ChromemIndex) Query(ctx context.Context, vector []float32, namespace string, topK int, includeMetadata bool) ([]rag.DocumentMatch, error) {
	ctx, span := tracer.Start(ctx, "ChromemIndex.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("top_k", topK),
	)

	if err := checkQuery(vector, topK); err != nil {
		return nil, err
	}

	col := c.db.GetCollection(namespace, noEmbedding)
	if col == nil {
		span.SetStatus(codes.Error, "collection not found")
		return nil, rag.Upstream("index query", fmt.Errorf("%w: %s", ErrCollectionNotFound, namespace))
	}

	// chromem requires nResults <= document count.
	n := min(topK, col.Count())
	if n == 0 {
		return []rag.DocumentMatch{}, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, rag.Upstream("index query", err)
	}

	matches := make([]rag.DocumentMatch, len(results))
	for i, r := range results {
		matches[i] = rag.DocumentMatch{Score: r.Similarity}
		if includeMetadata {
			matches[i].Path = r.Metadata[PayloadPath]
			matches[i].Text = r.Content
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Health always succeeds for the embedded database.
func (c *ChromemIndex) Health(context.Context) error { return nil }

// Close is a no-op; chromem persists on write.
func (c *ChromemIndex) Close() error { return nil }
