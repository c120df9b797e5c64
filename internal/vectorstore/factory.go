// Package vectorstore provides vector storage implementations.
package vectorstore

import (
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures a vector store backend.
type Config struct {
	// Provider is the backend type: "chromem" (default) or "qdrant".
	Provider string `koanf:"provider"`

	// Chromem configures the embedded backend.
	Chromem ChromemConfig `koanf:"chromem"`

	// Qdrant configures the external gRPC backend.
	Qdrant QdrantConfig `koanf:"qdrant"`
}

// NewStore creates a Store based on the configuration.
//
// The factory examines Config.Provider:
//   - "chromem" (default): embedded ChromemStore, no external dependencies
//   - "qdrant": QdrantStore, requires an external Qdrant server
//
// Example usage:
//
//	store, err := vectorstore.NewStore(cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func NewStore(cfg Config, logger *zap.Logger) (Store, error) {
	switch cfg.Provider {
	case "chromem", "":
		return NewChromemStore(cfg.Chromem, logger)
	case "qdrant":
		return NewQdrantStore(cfg.Qdrant, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported vectorstore provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
