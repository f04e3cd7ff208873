package rag

import (
	"context"

	"go.uber.org/zap"

	"github.com/voynow/chat-with-jfk-files/internal/logging"
)

// tracker logs state transitions for one request.
type tracker struct {
	logger *logging.Logger
	state  State
}

type trackerCtxKey struct{}

func withTracker(ctx context.Context, t *tracker) context.Context {
	return context.WithValue(ctx, trackerCtxKey{}, t)
}

func trackerFrom(ctx context.Context) *tracker {
	t, _ := ctx.Value(trackerCtxKey{}).(*tracker)
	return t
}

func (t *tracker) enter(ctx context.Context, s State) {
	if t == nil {
		return
	}
	t.logger.Debug(ctx, "request state", zap.String("from", string(t.state)), zap.String("to", string(s)))
	t.state = s
}

func (t *tracker) current() State {
	if t == nil {
		return ""
	}
	return t.state
}
