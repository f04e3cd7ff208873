// Chatd serves grounded question answering over the archived document corpus.
//
// Each request embeds the question and its chat history, looks up the nearest
// excerpts in the vector index, and streams the model's answer back as
// server-sent events.
//
// Configuration is read from an optional YAML file, then from CHATD_*
// environment variables. A .env file in the working directory is loaded
// first.
//
// Usage:
//
//	# Start the HTTP server
//	chatd -config chatd.yaml
//
//	# Serve MCP tools over stdio instead of HTTP
//	chatd -mcp-stdio
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/voynow/chat-with-jfk-files/internal/config"
	httpserver "github.com/voynow/chat-with-jfk-files/internal/http"
	"github.com/voynow/chat-with-jfk-files/internal/logging"
	"github.com/voynow/chat-with-jfk-files/internal/prompt"
	"github.com/voynow/chat-with-jfk-files/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("CHATD_CONFIG"), "path to YAML config file")
	stdio := flag.Bool("mcp-stdio", false, "serve MCP tools over stdio instead of HTTP")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  chatd [-config file] [-mcp-stdio]   Start the chat server\n")
			fmt.Fprintf(os.Stderr, "  chatd version                       Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *stdio); err != nil {
		log.Fatalf("chatd: %v", err)
	}
}

func printVersion() {
	fmt.Printf("chatd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the pipeline and serves until ctx is canceled.
func run(ctx context.Context, configPath string, stdio bool) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	sessionID := uuid.NewString()
	ctx = logging.WithSessionID(ctx, sessionID)

	if stdio {
		cfg.Logging.Output.Stderr = true
	}
	logger, err := logging.NewLogger(&cfg.Logging, global.GetLoggerProvider())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg.Telemetry.ServiceVersion = version
	tel, err := telemetry.New(ctx, &cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
		}
	}()

	logger.Info(ctx, "starting chatd",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.Bool("mcp.stdio", stdio),
		zap.String("index.provider", cfg.Index.Provider),
		zap.String("index.namespace", cfg.Index.Namespace),
		zap.Int("index.top_k", cfg.Index.TopK),
		zap.String("openai.completion_model", cfg.OpenAI.CompletionModel),
		zap.Bool("telemetry", tel.Enabled()),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps, err := build(ctx, cfg, logger, tel, reg)
	if err != nil {
		return err
	}
	defer deps.close()

	if cfg.Prompt.Watch {
		w, err := prompt.NewWatcher(cfg.Prompt.TemplatePath, deps.composer, logger)
		if err != nil {
			return fmt.Errorf("watching prompt template: %w", err)
		}
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error(ctx, "prompt watcher stopped", zap.Error(err))
			}
		}()
	}

	if stdio {
		return deps.mcp.Run(ctx)
	}
	return serve(ctx, cfg, logger, deps, reg, sessionID)
}

func serve(ctx context.Context, cfg *config.Config, logger *logging.Logger, deps *dependencies, reg *prometheus.Registry, sessionID string) error {
	opts := []httpserver.Option{
		httpserver.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
		httpserver.WithHTTPMetrics(httpserver.NewHTTPMetrics(deps.tel.Meter("chatd.http"), logger)),
		httpserver.WithHealthCheck(deps.store.Health),
	}
	if cfg.MCP.Enabled {
		opts = append(opts, httpserver.WithMCPHandler(deps.mcp.Handler()))
	}

	srv, err := httpserver.NewServer(deps.pipeline, logger, &httpserver.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.RequestTimeout.Duration(),
		Streaming:      cfg.Server.Streaming,
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
		SessionID:      sessionID,
	}, opts...)
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info(shutdownCtx, "server shutdown complete", zap.Duration("uptime", time.Since(deps.started)))
	return nil
}
