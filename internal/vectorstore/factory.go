package vectorstore

import (
	"context"
	"fmt"

	"github.com/voynow/chat-with-jfk-files/internal/config"
	"github.com/voynow/chat-with-jfk-files/internal/rag"
	"github.com/voynow/chat-with-jfk-files/internal/retry"
)

// Store is an index with lifecycle hooks.
type Store interface {
	rag.Index
	Health(ctx context.Context) error
	Close() error
}

// NewStore builds the backend named by cfg.Provider.
func NewStore(cfg config.IndexConfig, policy retry.Policy) (Store, error) {
	switch cfg.Provider {
	case config.ProviderQdrant, "":
		idx, err := NewQdrantIndex(QdrantConfig{
			Host:   cfg.Qdrant.Host,
			Port:   cfg.Qdrant.Port,
			APIKey: cfg.Qdrant.APIKey.Value(),
			UseTLS: cfg.Qdrant.UseTLS,
			Retry:  policy,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	case config.ProviderChromem:
		idx, err := OpenChromem(cfg.Chromem.Path, cfg.Chromem.Compress)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown index provider %q", cfg.Provider)
	}
}
