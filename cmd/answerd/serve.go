package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/cache"
	"github.com/fyrsmithlabs/answerd/internal/config"
	"github.com/fyrsmithlabs/answerd/internal/embeddings"
	"github.com/fyrsmithlabs/answerd/internal/engine"
	"github.com/fyrsmithlabs/answerd/internal/httpapi"
	"github.com/fyrsmithlabs/answerd/internal/ingest"
	"github.com/fyrsmithlabs/answerd/internal/llm"
	"github.com/fyrsmithlabs/answerd/internal/logging"
	"github.com/fyrsmithlabs/answerd/internal/session"
	"github.com/fyrsmithlabs/answerd/internal/storage/sqlite"
	"github.com/fyrsmithlabs/answerd/internal/telemetry"
	"github.com/fyrsmithlabs/answerd/internal/vectorstore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the answerd HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = version
	}
	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	logger, err := logging.New(cfg.Logging, nil)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting answerd",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Bool("telemetry_degraded", tel.Degraded()),
	)

	embedder, err := embeddings.NewProvider(ctx, cfg.Embeddings)
	if err != nil {
		return fmt.Errorf("init embeddings: %w", err)
	}
	defer embedder.Close() //nolint:errcheck

	// The vector store must be created with the dimension the embedding
	// model actually produces, or upserts fail at runtime.
	dims := embedder.Dimension()
	if dims > 0 {
		switch {
		case cfg.VectorStore.Chromem.VectorSize == 0:
			cfg.VectorStore.Chromem.VectorSize = dims
		case cfg.VectorStore.Chromem.VectorSize != dims:
			logger.Warn("configured chromem vector size differs from embedding model dimension",
				zap.Int("configured", cfg.VectorStore.Chromem.VectorSize),
				zap.Int("model", dims),
			)
		}
		switch {
		case cfg.VectorStore.Qdrant.VectorSize == 0:
			cfg.VectorStore.Qdrant.VectorSize = uint64(dims)
		case cfg.VectorStore.Qdrant.VectorSize != uint64(dims):
			logger.Warn("configured qdrant vector size differs from embedding model dimension",
				zap.Uint64("configured", cfg.VectorStore.Qdrant.VectorSize),
				zap.Int("model", dims),
			)
		}
	}

	store, err := vectorstore.NewStore(cfg.VectorStore, logger)
	if err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	defer store.Close() //nolint:errcheck

	db, err := sqlite.NewStore(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close() //nolint:errcheck
	logger.Info("database ready", zap.String("path", db.Path()))

	provider, err := llm.NewProvider(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("init llm provider: %w", err)
	}
	defer provider.Close() //nolint:errcheck

	cacheSvc, err := cache.New(db.CacheRepository(), embedder, cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}

	sessions, err := session.NewManager(db.SessionRepository(), cfg.Session, logger)
	if err != nil {
		return fmt.Errorf("init sessions: %w", err)
	}

	ingestor, err := ingest.New(store, embedder, cfg.Ingest, logger)
	if err != nil {
		return fmt.Errorf("init ingest: %w", err)
	}

	eng, err := engine.New(store, embedder, provider, cacheSvc, sessions, ingestor, cfg.Engine, logger)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	srv, err := httpapi.NewServer(eng, sessions, ingestor, store, httpapi.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}, logger)
	if err != nil {
		return fmt.Errorf("init http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	logger.Info("http server listening",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
	)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	logger.Info("answerd stopped")
	return nil
}
