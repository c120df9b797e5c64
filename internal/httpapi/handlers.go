package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/engine"
	"github.com/fyrsmithlabs/answerd/internal/ingest"
	"github.com/fyrsmithlabs/answerd/internal/llm"
	"github.com/fyrsmithlabs/answerd/internal/session"
)

// ChatRequest is the JSON request body for POST /api/v1/chat.
type ChatRequest struct {
	Message        string `json:"message" form:"message"`
	SessionID      string `json:"session_id" form:"session_id"`
	IncludeHistory *bool  `json:"include_history" form:"include_history"`
	TopK           int    `json:"top_k" form:"top_k"`
	Model          string `json:"model" form:"model"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// UploadResponse is the response body for POST /api/v1/documents.
type UploadResponse struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleChat(c echo.Context) error {
	owner, err := requireOwner(c)
	if err != nil {
		return err
	}

	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid chat request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	includeHistory := true
	if req.IncludeHistory != nil {
		includeHistory = *req.IncludeHistory
	}

	engineReq := engine.Request{
		Owner:          owner,
		Message:        req.Message,
		SessionID:      req.SessionID,
		IncludeHistory: includeHistory,
		TopK:           req.TopK,
		Model:          req.Model,
	}

	if file, err := readAttachment(c); err != nil {
		return err
	} else if file != nil {
		engineReq.File = file
	}

	resp, err := s.engine.Answer(c.Request().Context(), engineReq)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleCreateSession(c echo.Context) error {
	owner, err := requireOwner(c)
	if err != nil {
		return err
	}

	sess, err := s.sessions.Create(c.Request().Context(), owner)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusCreated, sess)
}

func (s *Server) handleGetSession(c echo.Context) error {
	owner, err := requireOwner(c)
	if err != nil {
		return err
	}

	sess, err := s.sessions.Get(c.Request().Context(), c.Param("id"), owner)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) handleListSessions(c echo.Context) error {
	owner, err := requireOwner(c)
	if err != nil {
		return err
	}

	sessions, err := s.sessions.List(c.Request().Context(), owner)
	if err != nil {
		return s.mapError(err)
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}

func (s *Server) handleClearSession(c echo.Context) error {
	owner, err := requireOwner(c)
	if err != nil {
		return err
	}

	if err := s.sessions.Clear(c.Request().Context(), c.Param("id"), owner); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	owner, err := requireOwner(c)
	if err != nil {
		return err
	}

	if err := s.sessions.Delete(c.Request().Context(), c.Param("id"), owner); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleUploadDocument(c echo.Context) error {
	if _, err := requireOwner(c); err != nil {
		return err
	}

	doc := ingest.Document{ID: c.FormValue("document_id")}

	if file, err := readAttachment(c); err != nil {
		return err
	} else if file != nil {
		doc.FileName = file.Name
		doc.Text = file.ExtractedText
	} else {
		doc.FileName = c.FormValue("file_name")
		doc.Text = c.FormValue("text")
	}

	if strings.TrimSpace(doc.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "document text is required")
	}

	id, chunks, err := s.ingestor.Index(c.Request().Context(), doc)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusCreated, UploadResponse{DocumentID: id, Chunks: chunks})
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	if _, err := requireOwner(c); err != nil {
		return err
	}

	if err := s.ingestor.Remove(c.Request().Context(), c.Param("id")); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.stats.Stats(c.Request().Context())
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, stats)
}

// requireOwner extracts the caller identity from the X-User-ID header.
func requireOwner(c echo.Context) (string, error) {
	owner := strings.TrimSpace(c.Request().Header.Get(ownerHeader))
	if owner == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, ownerHeader+" header is required")
	}
	return owner, nil
}

// readAttachment extracts an optional multipart file. Images keep raw
// bytes for vision calls; anything else is treated as extracted text.
func readAttachment(c echo.Context) (*engine.FileAttachment, error) {
	header, err := c.FormFile("file")
	if err != nil {
		// No multipart file present.
		return nil, nil
	}

	f, err := header.Open()
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "cannot read uploaded file")
	}

	mimeType := header.Header.Get("Content-Type")
	attachment := &engine.FileAttachment{
		Name:     header.Filename,
		MIMEType: mimeType,
		Data:     data,
	}
	if !strings.HasPrefix(mimeType, "image/") {
		attachment.ExtractedText = string(data)
	}
	return attachment, nil
}

// mapError translates domain errors to HTTP status codes. The mapping
// distinguishes invalid input from permission, not-found, and upstream
// provider failures.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, engine.ErrEmptyMessage),
		errors.Is(err, engine.ErrInvalidRequest),
		errors.Is(err, ingest.ErrEmptyDocument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrPermissionDenied):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, session.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, llm.ErrGenerationFailed):
		return echo.NewHTTPError(http.StatusBadGateway, "upstream provider failure")
	default:
		s.logger.Error("internal error", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
