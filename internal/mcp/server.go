package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/voynow/chat-with-jfk-files/internal/logging"
	"github.com/voynow/chat-with-jfk-files/internal/rag"
)

// Service is the part of the chat pipeline the tools call.
type Service interface {
	Retrieve(ctx context.Context, q rag.Query) ([]rag.DocumentMatch, error)
	Answer(ctx context.Context, q rag.Query) (*rag.Answer, error)
}

// Config holds MCP server configuration.
type Config struct {
	Name      string
	Version   string
	SessionID string
	Logger    *logging.Logger
	Metrics   *Metrics
}

// Server wraps an MCP server whose tools run chat requests.
type Server struct {
	mcp       *mcp.Server
	svc       Service
	sessionID string
	logger    *logging.Logger
	metrics   *Metrics
}

// NewServer creates a Server and registers its tools.
func NewServer(cfg *Config, svc Service) (*Server, error) {
	if svc == nil {
		return nil, errors.New("chat service is required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Name == "" {
		cfg.Name = "chatd"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		svc:       svc,
		sessionID: cfg.SessionID,
		logger:    logger.Named("mcp"),
		metrics:   cfg.Metrics,
	}
	s.registerTools()
	return s, nil
}

// Handler returns the streamable-HTTP transport for the server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)
}

// Run serves the tools over stdio until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect attaches the server to an arbitrary transport.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}

// requestContext tags tool calls the same way HTTP requests are tagged.
func (s *Server) requestContext(ctx context.Context, req *mcp.CallToolRequest) context.Context {
	if s.sessionID != "" && logging.SessionIDFromContext(ctx) == "" {
		ctx = logging.WithSessionID(ctx, s.sessionID)
	}
	if logging.RequestIDFromContext(ctx) == "" {
		ctx = logging.WithRequestID(ctx, uuid.NewString())
	}
	if req != nil && req.Session != nil && req.Session.ID() != "" {
		s.logger.Debug(ctx, "tool call", zap.String("mcp.session", req.Session.ID()))
	}
	return ctx
}

func (s *Server) logFailure(ctx context.Context, tool string, err error) {
	s.logger.Warn(ctx, "tool call failed",
		zap.String("tool", tool),
		zap.String("error_kind", rag.Classify(err).String()),
		zap.Error(err),
	)
}
