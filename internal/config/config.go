// Package config loads and validates service configuration from a YAML
// file with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/answerd/internal/cache"
	"github.com/fyrsmithlabs/answerd/internal/embeddings"
	"github.com/fyrsmithlabs/answerd/internal/engine"
	"github.com/fyrsmithlabs/answerd/internal/ingest"
	"github.com/fyrsmithlabs/answerd/internal/llm"
	"github.com/fyrsmithlabs/answerd/internal/logging"
	"github.com/fyrsmithlabs/answerd/internal/session"
	"github.com/fyrsmithlabs/answerd/internal/telemetry"
	"github.com/fyrsmithlabs/answerd/internal/vectorstore"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the top-level service configuration.
type Config struct {
	Server      ServerConfig       `koanf:"server"`
	Logging     logging.Config     `koanf:"logging"`
	Telemetry   telemetry.Config   `koanf:"telemetry"`
	LLM         llm.Config         `koanf:"llm"`
	Embeddings  embeddings.Config  `koanf:"embeddings"`
	VectorStore vectorstore.Config `koanf:"vectorstore"`
	Cache       cache.Config       `koanf:"cache"`
	Session     session.Config     `koanf:"session"`
	Engine      engine.Config      `koanf:"engine"`
	Ingest      ingest.Config      `koanf:"ingest"`
	Storage     StorageConfig      `koanf:"storage"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// MaxUploadBytes caps document upload size.
	MaxUploadBytes int64 `koanf:"max_upload_bytes"`
}

// StorageConfig holds relational storage settings.
type StorageConfig struct {
	// DataDir is the directory holding the SQLite database.
	DataDir string `koanf:"data_dir"`
}

// applyDefaults fills unset fields on all sections.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 60 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 180 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 20 << 20
	}

	cfg.Logging.ApplyDefaults()
	cfg.Telemetry.ApplyDefaults()
	cfg.Cache.ApplyDefaults()
	cfg.Session.ApplyDefaults()
	cfg.Engine.ApplyDefaults()
	cfg.Ingest.ApplyDefaults()
}

// Validate validates the whole configuration. Provider credentials are
// checked here so a misconfigured deployment fails at startup instead
// of on the first request.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port must be in [1, 65535], got %d", ErrInvalidConfig, c.Server.Port)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.Embeddings.Validate(); err != nil {
		return fmt.Errorf("embeddings: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return nil
}
