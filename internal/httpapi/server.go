// Package httpapi exposes the answer engine over HTTP. Authentication
// is out of scope; the owner identity arrives in the X-User-ID header
// set by the fronting proxy.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/engine"
	"github.com/fyrsmithlabs/answerd/internal/ingest"
	"github.com/fyrsmithlabs/answerd/internal/session"
	"github.com/fyrsmithlabs/answerd/internal/vectorstore"
)

// ownerHeader carries the caller identity.
const ownerHeader = "X-User-ID"

// Answerer resolves questions.
type Answerer interface {
	Answer(ctx context.Context, req engine.Request) (*engine.Response, error)
}

// SessionManager is the session surface the API exposes.
type SessionManager interface {
	Create(ctx context.Context, owner string) (*session.Session, error)
	Get(ctx context.Context, id, requester string) (*session.Session, error)
	Clear(ctx context.Context, id, requester string) error
	Delete(ctx context.Context, id, requester string) error
	List(ctx context.Context, owner string) ([]*session.Session, error)
}

// Ingestor is the document ingestion surface the API exposes.
type Ingestor interface {
	Index(ctx context.Context, doc ingest.Document) (string, int, error)
	Remove(ctx context.Context, documentID string) error
}

// StatsProvider reports vector store statistics.
type StatsProvider interface {
	Stats(ctx context.Context) (vectorstore.Stats, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64
}

// Server provides the HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	engine   Answerer
	sessions SessionManager
	ingestor Ingestor
	stats    StatsProvider
	logger   *zap.Logger
	metrics  *HTTPMetrics
	cfg      Config
}

// NewServer creates the HTTP server.
func NewServer(eng Answerer, sessions SessionManager, ingestor Ingestor, stats StatsProvider, cfg Config, logger *zap.Logger) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = 20 << 20
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	if cfg.ReadTimeout != 0 {
		e.Server.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout != 0 {
		e.Server.WriteTimeout = cfg.WriteTimeout
	}

	s := &Server{
		echo:     e,
		engine:   eng,
		sessions: sessions,
		ingestor: ingestor,
		stats:    stats,
		logger:   logger,
		metrics:  NewHTTPMetrics(logger),
		cfg:      cfg,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(fmt.Sprintf("%d", cfg.MaxUploadBytes)))
	e.Use(s.requestLogger)
	e.Use(s.metrics.Middleware)

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/chat", s.handleChat)
	v1.GET("/sessions", s.handleListSessions)
	v1.POST("/sessions", s.handleCreateSession)
	v1.GET("/sessions/:id", s.handleGetSession)
	v1.POST("/sessions/:id/clear", s.handleClearSession)
	v1.DELETE("/sessions/:id", s.handleDeleteSession)
	v1.POST("/documents", s.handleUploadDocument)
	v1.DELETE("/documents/:id", s.handleDeleteDocument)
	v1.GET("/stats", s.handleStats)
}

// requestLogger logs each request with its latency and request ID.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)

		s.logger.Info("http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return err
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
