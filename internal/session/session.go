// Package session manages per-user conversation sessions. Histories
// are bounded so prompts stay small, and every operation verifies the
// requester owns the session before acting.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNotFound indicates the session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrPermissionDenied indicates the requester does not own the
	// session.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// timeNow is a variable for testing.
var timeNow = time.Now

// DefaultHistoryLimit is how many recent turns a session retains.
const DefaultHistoryLimit = 10

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is a bounded conversation history owned by one user.
type Session struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	History   []Message `json:"history"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository persists sessions.
type Repository interface {
	// Get returns the session by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Put inserts or replaces a session.
	Put(ctx context.Context, session *Session) error

	// Delete removes a session, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// ListByOwner returns all sessions for an owner, newest first.
	ListByOwner(ctx context.Context, owner string) ([]*Session, error)
}

// Config holds session manager configuration.
type Config struct {
	// HistoryLimit caps how many recent turns a session keeps.
	HistoryLimit int `koanf:"history_limit"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.HistoryLimit == 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.HistoryLimit < 2 {
		return fmt.Errorf("%w: history limit must be at least 2, got %d", ErrInvalidConfig, c.HistoryLimit)
	}
	return nil
}

// Manager coordinates session access with ownership enforcement.
type Manager struct {
	repo   Repository
	cfg    Config
	logger *zap.Logger
}

// NewManager creates a session manager.
func NewManager(repo Repository, cfg Config, logger *zap.Logger) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{repo: repo, cfg: cfg, logger: logger}, nil
}

// Create starts a new empty session for the owner.
func (m *Manager) Create(ctx context.Context, owner string) (*Session, error) {
	now := timeNow().UTC()
	session := &Session{
		ID:        uuid.New().String(),
		Owner:     owner,
		History:   []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.repo.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// Get returns the session if the requester owns it.
func (m *Manager) Get(ctx context.Context, id, requester string) (*Session, error) {
	return m.authorized(ctx, id, requester)
}

// Append adds turns to the session history, keeping only the most
// recent turns up to the configured limit.
func (m *Manager) Append(ctx context.Context, id, requester string, turns ...Message) (*Session, error) {
	session, err := m.authorized(ctx, id, requester)
	if err != nil {
		return nil, err
	}

	session.History = append(session.History, turns...)
	if excess := len(session.History) - m.cfg.HistoryLimit; excess > 0 {
		session.History = session.History[excess:]
	}
	session.UpdatedAt = timeNow().UTC()

	if err := m.repo.Put(ctx, session); err != nil {
		return nil, fmt.Errorf("append to session: %w", err)
	}
	return session, nil
}

// Clear empties the session history but keeps the session.
func (m *Manager) Clear(ctx context.Context, id, requester string) error {
	session, err := m.authorized(ctx, id, requester)
	if err != nil {
		return err
	}

	session.History = []Message{}
	session.UpdatedAt = timeNow().UTC()

	if err := m.repo.Put(ctx, session); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Delete removes the session entirely.
func (m *Manager) Delete(ctx context.Context, id, requester string) error {
	if _, err := m.authorized(ctx, id, requester); err != nil {
		return err
	}
	if err := m.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// List returns all sessions owned by the requester, newest first.
func (m *Manager) List(ctx context.Context, owner string) ([]*Session, error) {
	sessions, err := m.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// authorized loads a session and enforces ownership. The mismatch case
// logs the attempt; it is the signal an operator wants when one user
// probes another's sessions.
func (m *Manager) authorized(ctx context.Context, id, requester string) (*Session, error) {
	session, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Owner != requester {
		m.logger.Warn("session access denied",
			zap.String("session_id", id),
			zap.String("owner", session.Owner),
			zap.String("requester", requester),
		)
		return nil, fmt.Errorf("%w: session %s", ErrPermissionDenied, id)
	}
	return session, nil
}
