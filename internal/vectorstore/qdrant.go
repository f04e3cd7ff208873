package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/voynow/chat-with-jfk-files/internal/rag"
	"github.com/voynow/chat-with-jfk-files/internal/retry"
)

var tracer = otel.Tracer("chatd.vectorstore")

// Payload keys written by the indexer.
const (
	PayloadPath = "path"
	PayloadText = "text"
)

const maxMessageSize = 16 * 1024 * 1024

var (
	// ErrInvalidNamespace indicates a namespace that cannot name a collection.
	ErrInvalidNamespace = errors.New("invalid namespace")

	namespacePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)
)

// ValidateNamespace checks that name is usable as a collection name.
func ValidateNamespace(name string) error {
	if !namespacePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidNamespace, name, namespacePattern)
	}
	return nil
}

// IsTransientError reports whether a gRPC failure is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func checkQuery(vector []float32, topK int) error {
	if len(vector) == 0 {
		return rag.Validation("query vector is empty")
	}
	if topK < 1 {
		return rag.Validation("top_k must be >= 1, got %d", topK)
	}
	return nil
}

// QdrantConfig configures the Qdrant backend.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
	Retry  retry.Policy
}

// querier is the subset of *qdrant.Client used for lookups.
type querier interface {
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// QdrantIndex queries a Qdrant server.
type QdrantIndex struct {
	client querier
	retry  retry.Policy
}

var _ rag.Index = (*QdrantIndex)(nil)

// NewQdrantIndex connects to Qdrant. The connection is established lazily;
// use Health to verify reachability.
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		return nil, errors.New("qdrant host is required")
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMessageSize)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}
	return &QdrantIndex{client: client, retry: cfg.Retry}, nil
}

// Query returns up to topK matches for vector in the namespace collection.
func (q *QdrantIndex) Query(ctx context.Context, vector []float32, namespace string, topK int, includeMetadata bool) ([]rag.DocumentMatch, error) {
	ctx, span := tracer.Start(ctx, "QdrantIndex.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("namespace", namespace),
		attribute.Int("top_k", topK),
	)

	if err := ValidateNamespace(namespace); err != nil {
		return nil, rag.Upstream("index query", err)
	}
	if err := checkQuery(vector, topK); err != nil {
		return nil, err
	}

	var points []*qdrant.ScoredPoint
	err := q.retry.Do(ctx, "qdrant query", IsTransientError, func(ctx context.Context) error {
		res, err := q.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: namespace,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(includeMetadata),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("index query: %w: %w", ctxErr, err)
		}
		return nil, rag.Upstream("index query", err)
	}

	matches := make([]rag.DocumentMatch, 0, len(points))
	for _, p := range points {
		m := rag.DocumentMatch{Score: p.GetScore()}
		if payload := p.GetPayload(); payload != nil {
			m.Path = payload[PayloadPath].GetStringValue()
			m.Text = payload[PayloadText].GetStringValue()
		}
		matches = append(matches, m)
	}

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Health checks that the server answers.
func (q *QdrantIndex) Health(ctx context.Context) error {
	if _, err := q.client.HealthCheck(ctx); err != nil {
		return rag.Upstream("qdrant health", err)
	}
	return nil
}

// Close releases the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}
