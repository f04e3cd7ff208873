// Package events publishes a record of every finished chat request to NATS
// for offline analysis.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/voynow/chat-with-jfk-files/internal/logging"
	"github.com/voynow/chat-with-jfk-files/internal/rag"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "chat.requests"

// ChatRecord is the published message body.
type ChatRecord struct {
	SessionID      string   `json:"session_id"`
	RequestID      string   `json:"request_id"`
	Namespace      string   `json:"namespace"`
	Mode           string   `json:"mode"`
	Outcome        string   `json:"outcome"`
	ErrorKind      string   `json:"error_kind,omitempty"`
	Error          string   `json:"error,omitempty"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
	Documents      []string `json:"documents"`
}

func newChatRecord(rec rag.Record) ChatRecord {
	docs := rec.Documents
	if docs == nil {
		docs = []string{}
	}
	return ChatRecord{
		SessionID:      rec.SessionID,
		RequestID:      rec.RequestID,
		Namespace:      rec.Namespace,
		Mode:           rec.Mode,
		Outcome:        string(rec.Outcome),
		ErrorKind:      rec.ErrorKind,
		Error:          rec.Error,
		ElapsedSeconds: rec.Elapsed.Seconds(),
		Documents:      docs,
	}
}

// NATSPublisher implements rag.Recorder on a NATS connection.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	logger  *logging.Logger
	owned   bool
}

var _ rag.Recorder = (*NATSPublisher)(nil)

// Connect dials url and returns a publisher that owns the connection. An
// empty url returns a no-op recorder.
func Connect(url, subject string, logger *logging.Logger) (rag.Recorder, func(), error) {
	if url == "" {
		return rag.RecorderFunc(func(context.Context, rag.Record) {}), func() {}, nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("chatd"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(context.Background(), "nats disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	p := NewNATSPublisher(nc, subject, logger)
	p.owned = true
	return p, p.Close, nil
}

// NewNATSPublisher publishes on an existing connection.
func NewNATSPublisher(nc *nats.Conn, subject string, logger *logging.Logger) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &NATSPublisher{nc: nc, subject: subject, logger: logger.Named("events")}
}

// Record publishes rec. Failures are logged and otherwise ignored.
func (p *NATSPublisher) Record(ctx context.Context, rec rag.Record) {
	data, err := json.Marshal(newChatRecord(rec))
	if err != nil {
		p.logger.Error(ctx, "encoding chat record", zap.Error(err))
		return
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		p.logger.Warn(ctx, "publishing chat record",
			zap.String("subject", p.subject),
			zap.Error(err),
		)
	}
}

// Close flushes pending messages and closes the connection if owned.
func (p *NATSPublisher) Close() {
	if err := p.nc.FlushTimeout(2 * time.Second); err != nil {
		p.logger.Debug(context.Background(), "flushing nats", zap.Error(err))
	}
	if p.owned {
		p.nc.Close()
	}
}
