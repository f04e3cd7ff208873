// Package logging provides structured logging on top of zap.
//
// Every log method takes a context.Context so correlation fields travel with
// the request without being threaded through call signatures:
//
//	ctx = logging.WithSessionID(ctx, sessionID)
//	ctx = logging.WithRequestID(ctx, requestID)
//	logger.Info(ctx, "retrieval finished", zap.Int("documents", n))
//
// emits session.id, request.id and, when a span is active, trace_id and
// span_id alongside the message.
//
// Output goes to stdout (JSON or console encoding) and optionally to an
// OpenTelemetry log provider. Sensitive keys and bearer-token patterns are
// redacted by the stdout encoder. Entries below Error are sampled when
// sampling is enabled; errors are never dropped.
package logging
