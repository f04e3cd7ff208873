package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/voynow/chat-with-jfk-files/internal/completion"
	"github.com/voynow/chat-with-jfk-files/internal/config"
	"github.com/voynow/chat-with-jfk-files/internal/embeddings"
	"github.com/voynow/chat-with-jfk-files/internal/events"
	"github.com/voynow/chat-with-jfk-files/internal/logging"
	mcpserver "github.com/voynow/chat-with-jfk-files/internal/mcp"
	"github.com/voynow/chat-with-jfk-files/internal/prompt"
	"github.com/voynow/chat-with-jfk-files/internal/rag"
	"github.com/voynow/chat-with-jfk-files/internal/telemetry"
	"github.com/voynow/chat-with-jfk-files/internal/vectorstore"
)

type dependencies struct {
	pipeline *rag.Pipeline
	composer *prompt.Composer
	store    vectorstore.Store
	mcp      *mcpserver.Server
	tel      *telemetry.Telemetry
	started  time.Time
	closers  []func()
}

func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func historyOrder(s string) rag.HistoryOrder {
	if s == config.OrderHistoryFirst {
		return rag.HistoryFirst
	}
	return rag.TextFirst
}

func loadComposer(cfg config.PromptConfig) (*prompt.Composer, error) {
	if cfg.TemplatePath == "" {
		return prompt.NewComposer("")
	}
	return prompt.LoadComposer(cfg.TemplatePath)
}

// build creates the providers and the pipeline. On error, anything already
// opened is closed.
func build(ctx context.Context, cfg *config.Config, logger *logging.Logger, tel *telemetry.Telemetry, reg prometheus.Registerer) (_ *dependencies, err error) {
	d := &dependencies{tel: tel, started: time.Now()}
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	policy := cfg.Retry.Policy()

	embMetrics, err := embeddings.NewMetrics(tel.Meter("chatd.embeddings"))
	if err != nil {
		return nil, fmt.Errorf("creating embedding metrics: %w", err)
	}
	embedder, err := embeddings.New(embeddings.Config{
		APIKey:    cfg.OpenAI.APIKey.Value(),
		BaseURL:   cfg.OpenAI.BaseURL,
		Model:     cfg.OpenAI.EmbeddingModel,
		RateLimit: cfg.OpenAI.RateLimit,
		Burst:     cfg.OpenAI.Burst,
		Retry:     policy,
	}, embeddings.WithLogger(logger), embeddings.WithMetrics(embMetrics))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	completer, err := completion.New(completion.Config{
		APIKey:         cfg.OpenAI.APIKey.Value(),
		BaseURL:        cfg.OpenAI.BaseURL,
		Model:          cfg.OpenAI.CompletionModel,
		ResponseFormat: cfg.OpenAI.ResponseFormat,
		RateLimit:      cfg.OpenAI.RateLimit,
		Burst:          cfg.OpenAI.Burst,
		Retry:          policy,
	}, completion.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("creating completer: %w", err)
	}

	store, err := vectorstore.NewStore(cfg.Index, policy)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	d.store = store
	d.closers = append(d.closers, func() {
		if err := store.Close(); err != nil {
			logger.Warn(ctx, "closing index", zap.Error(err))
		}
	})
	if err := store.Health(ctx); err != nil {
		// The index may come up after us; /health reports it meanwhile.
		logger.Warn(ctx, "index not reachable at startup", zap.Error(err))
	}

	composer, err := loadComposer(cfg.Prompt)
	if err != nil {
		return nil, fmt.Errorf("loading prompt template: %w", err)
	}
	d.composer = composer

	recorder, closeRecorder, err := events.Connect(cfg.NATS.URL, cfg.NATS.Subject, logger)
	if err != nil {
		return nil, err
	}
	d.closers = append(d.closers, closeRecorder)

	metrics := rag.NewMetrics(reg)
	retrieverOpts := []rag.RetrieverOption{
		rag.WithHistoryOrder(historyOrder(cfg.Chat.HistoryOrder)),
		rag.WithRetrieverLogger(logger),
		rag.WithRetrieverMetrics(metrics),
	}
	if !cfg.Index.IncludeMetadata {
		retrieverOpts = append(retrieverOpts, rag.WithoutMetadata())
	}

	d.pipeline, err = rag.NewPipeline(
		rag.NewRetriever(embedder, store, retrieverOpts...),
		composer,
		completer,
		rag.Settings{
			Namespace: cfg.Index.Namespace,
			TopK:      cfg.Index.TopK,
			Limits: rag.Limits{
				MaxHistory:   cfg.Chat.MaxHistory,
				MaxTextChars: cfg.Chat.MaxTextChars,
			},
		},
		rag.WithRecorder(recorder),
		rag.WithMetrics(metrics),
		rag.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}

	d.mcp, err = mcpserver.NewServer(&mcpserver.Config{
		Name:      "chatd",
		Version:   version,
		SessionID: logging.SessionIDFromContext(ctx),
		Logger:    logger,
		Metrics:   mcpserver.NewMetrics(tel.Meter("chatd.mcp"), logger),
	}, d.pipeline)
	if err != nil {
		return nil, fmt.Errorf("creating mcp server: %w", err)
	}
	return d, nil
}
