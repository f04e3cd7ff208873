package rag

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// Query is one chat turn plus the turns before it.
type Query struct {
	Text        string   `json:"text"`
	ChatHistory []string `json:"chat_history,omitempty"`
}

// Limits bounds a Query. Zero disables a limit.
type Limits struct {
	MaxHistory   int
	MaxTextChars int
}

// Validate rejects blank text and requests beyond limits.
func (q Query) Validate(l Limits) error {
	if strings.TrimSpace(q.Text) == "" {
		return Validation("text is required")
	}
	if l.MaxTextChars > 0 && utf8.RuneCountInString(q.Text) > l.MaxTextChars {
		return Validation("text exceeds %d characters", l.MaxTextChars)
	}
	if l.MaxHistory > 0 && len(q.ChatHistory) > l.MaxHistory {
		return Validation("chat_history exceeds %d entries", l.MaxHistory)
	}
	return nil
}

// DocumentMatch is one retrieved excerpt.
type DocumentMatch struct {
	Path  string  `json:"path"`
	Text  string  `json:"text"`
	Score float32 `json:"score,omitempty"`
}

// PromptInput is everything the prompt template may reference.
type PromptInput struct {
	Today       string
	ChatHistory []string
	QueryText   string
	Documents   []DocumentMatch
}

// Chunk is one value from a streaming completion. A chunk with a non-nil Err
// is always the last value on its channel.
type Chunk struct {
	Text string
	Err  error
}

// EventKind tags an Event.
type EventKind int

const (
	EventContent EventKind = iota
	EventStats
	EventDocuments
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventContent:
		return "content"
	case EventStats:
		return "stats"
	case EventDocuments:
		return "documents"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one item of a streamed answer. Only the field matching Kind is set.
type Event struct {
	Kind      EventKind
	Content   string
	Elapsed   time.Duration
	Documents []DocumentMatch
	Err       error
}

// Answer is the result of a non-streaming request.
type Answer struct {
	Text      string
	Documents []DocumentMatch
	Elapsed   time.Duration
}

// State is a step of the request state machine.
type State string

const (
	StateReceived   State = "received"
	StateEmbedding  State = "embedding"
	StateRetrieving State = "retrieving"
	StateComposing  State = "composing"
	StateStreaming  State = "streaming"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index is a read-only nearest-neighbour index partitioned by namespace.
// Results are returned in the index's order (descending similarity).
type Index interface {
	Query(ctx context.Context, vector []float32, namespace string, topK int, includeMetadata bool) ([]DocumentMatch, error)
}

// Completer talks to the language model.
//
// Stream returns a channel of chunks in arrival order. The producer closes the
// channel when the model finishes, after sending a final Chunk with Err set on
// failure, and stops promptly once ctx is done.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string) <-chan Chunk
}

// Composer renders the prompt. It must be deterministic.
type Composer interface {
	Compose(in PromptInput) string
}

// Outcome summarizes how a request ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

// Record describes a finished request.
type Record struct {
	SessionID string
	RequestID string
	Namespace string
	Mode      string
	Outcome   Outcome
	ErrorKind string
	Error     string
	Elapsed   time.Duration
	Documents []string
}

// Recorder receives a Record for every finished request. Implementations
// must not block the caller for long.
type Recorder interface {
	Record(ctx context.Context, rec Record)
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, rec Record)

func (f RecorderFunc) Record(ctx context.Context, rec Record) { f(ctx, rec) }

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Record) {}
