package embeddings

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/voynow/chat-with-jfk-files/internal/embeddings"

// Metrics holds embedding metrics.
type Metrics struct {
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

// NewMetrics creates instruments on meter, or on the global meter if nil.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}

	duration, err := meter.Float64Histogram(
		"chatd.embedding.duration_seconds",
		metric.WithDescription("Duration of embedding calls, including retries, labeled by model."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, err
	}
	errs, err := meter.Int64Counter(
		"chatd.embedding.errors_total",
		metric.WithDescription("Failed embedding calls by model and error kind."),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}
	return &Metrics{duration: duration, errors: errs}, nil
}

// RecordGeneration records one Embed call.
func (m *Metrics) RecordGeneration(ctx context.Context, model string, d time.Duration, kind string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	m.duration.Record(ctx, d.Seconds(), attrs)
	if kind != "" {
		m.errors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("model", model),
			attribute.String("kind", kind),
		))
	}
}
