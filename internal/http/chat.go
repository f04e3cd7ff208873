package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/voynow/chat-with-jfk-files/internal/logging"
	"github.com/voynow/chat-with-jfk-files/internal/rag"
)

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Session: s.config.SessionID}
	if s.health != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			s.logger.Warn(ctx, "health check failed", zap.Error(err))
			resp.Status = "degraded"
			resp.Error = publicMessage(err)
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) bindQuery(c echo.Context) (rag.Query, error) {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return rag.Query{}, rag.Validation("invalid request body")
	}
	return rag.Query{Text: req.Text, ChatHistory: req.ChatHistory}, nil
}

// requestContext applies the per-request deadline. Client disconnects cancel
// the parent.
func (s *Server) requestContext(c echo.Context) (context.Context, context.CancelFunc) {
	if s.config.RequestTimeout <= 0 {
		return context.WithCancel(c.Request().Context())
	}
	return context.WithTimeout(c.Request().Context(), s.config.RequestTimeout)
}

func (s *Server) handleChat(c echo.Context) error {
	if !s.config.Streaming {
		return s.handleChatSync(c)
	}

	q, err := s.bindQuery(c)
	if err != nil {
		return httpError(err)
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	events, err := s.chat.Stream(ctx, q)
	if err != nil {
		if rag.Classify(err) == rag.KindCanceled {
			return nil
		}
		return httpError(err)
	}

	// Headers are committed from here on; failures travel in-band.
	log := logging.FromContext(ctx)
	w := newSSEWriter(c.Response())
	terminated := false
	for ev := range events {
		payload, err := framePayload(ev)
		if err != nil {
			log.Error(ctx, "encoding stream event", zap.String("kind", ev.Kind.String()), zap.Error(err))
			payload = prefixError + "internal error"
		}
		if ev.Kind == rag.EventError || ev.Kind == rag.EventDocuments {
			terminated = true
		}
		if err := w.Send(payload); err != nil {
			log.Debug(ctx, "client went away", zap.Error(err))
			cancel()
			for range events {
			}
			return nil
		}
	}

	// The pipeline cannot always deliver its error event once the deadline
	// has passed; the client is still connected, so tell it.
	if !terminated && c.Request().Context().Err() == nil && ctx.Err() != nil {
		_ = w.Send(prefixError + publicMessage(ctx.Err()))
	}
	return nil
}

// framePayload renders ev as an SSE payload.
func framePayload(ev rag.Event) (string, error) {
	switch ev.Kind {
	case rag.EventContent:
		return ev.Content, nil
	case rag.EventStats:
		return prefixStats + strconv.FormatFloat(ev.Elapsed.Seconds(), 'f', 2, 64) + "s", nil
	case rag.EventDocuments:
		docs := ev.Documents
		if docs == nil {
			docs = []rag.DocumentMatch{}
		}
		var b strings.Builder
		enc := json.NewEncoder(&b)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(docs); err != nil {
			return "", err
		}
		return prefixDocs + strings.TrimSuffix(b.String(), "\n"), nil
	case rag.EventError:
		return prefixError + publicMessage(ev.Err), nil
	default:
		return "", errors.New("unknown event kind")
	}
}

func (s *Server) handleChatSync(c echo.Context) error {
	q, err := s.bindQuery(c)
	if err != nil {
		return httpError(err)
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	answer, err := s.chat.Answer(ctx, q)
	if err != nil {
		if rag.Classify(err) == rag.KindCanceled {
			return nil
		}
		return httpError(err)
	}
	return c.JSON(http.StatusOK, answer.Text)
}
