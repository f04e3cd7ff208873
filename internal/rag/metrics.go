package rag

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the chat pipeline's Prometheus collectors. A nil *Metrics
// records nothing.
type Metrics struct {
	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retrieval  prometheus.Histogram
	firstChunk prometheus.Histogram
	chunks     prometheus.Counter
	documents  prometheus.Histogram
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatd",
			Name:      "requests_total",
			Help:      "Chat requests by mode (stream, sync) and outcome.",
		}, []string{"mode", "outcome", "kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "chatd",
			Name:      "request_duration_seconds",
			Help:      "Time from request receipt to the last event.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		}, []string{"mode"}),
		retrieval: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatd",
			Name:      "retrieval_duration_seconds",
			Help:      "Embedding plus index query latency.",
			Buckets:   prometheus.ExponentialBuckets(0.025, 2, 9),
		}),
		firstChunk: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatd",
			Name:      "time_to_first_chunk_seconds",
			Help:      "Time from request receipt to the first streamed content.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 9),
		}),
		chunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatd",
			Name:      "stream_chunks_total",
			Help:      "Content events delivered to clients.",
		}),
		documents: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "chatd",
			Name:      "retrieved_documents",
			Help:      "Documents returned per retrieval.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
	}
	reg.MustRegister(m.requests, m.duration, m.retrieval, m.firstChunk, m.chunks, m.documents)
	return m
}

func (m *Metrics) observeRequest(mode string, outcome Outcome, kind Kind, elapsed time.Duration) {
	if m == nil {
		return
	}
	k := ""
	if outcome != OutcomeCompleted {
		k = kind.String()
	}
	m.requests.WithLabelValues(mode, string(outcome), k).Inc()
	m.duration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (m *Metrics) observeRetrieval(elapsed time.Duration, n int) {
	if m == nil {
		return
	}
	m.retrieval.Observe(elapsed.Seconds())
	m.documents.Observe(float64(n))
}

func (m *Metrics) observeFirstChunk(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.firstChunk.Observe(elapsed.Seconds())
}

func (m *Metrics) incChunks() {
	if m == nil {
		return
	}
	m.chunks.Inc()
}
