package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/answerd/internal/session"
)

// sessionRepo implements session.Repository.
type sessionRepo struct {
	db *sql.DB
}

func (r *sessionRepo) Get(ctx context.Context, id string) (*session.Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner, history, created_at, updated_at
		FROM sessions
		WHERE id = ?`,
		id,
	)

	var s session.Session
	var history string
	err := row.Scan(&s.ID, &s.Owner, &history, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &s.History); err != nil {
		return nil, fmt.Errorf("unmarshaling history for %s: %w", s.ID, err)
	}
	return &s, nil
}

func (r *sessionRepo) Put(ctx context.Context, s *session.Session) error {
	history, err := json.Marshal(s.History)
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner, history, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			history = excluded.history,
			updated_at = excluded.updated_at`,
		s.ID, s.Owner, string(history), s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

func (r *sessionRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) ListByOwner(ctx context.Context, owner string) ([]*session.Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner, history, created_at, updated_at
		FROM sessions
		WHERE owner = ?
		ORDER BY updated_at DESC`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*session.Session
	for rows.Next() {
		var s session.Session
		var history string
		if err := rows.Scan(&s.ID, &s.Owner, &history, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		if err := json.Unmarshal([]byte(history), &s.History); err != nil {
			return nil, fmt.Errorf("unmarshaling history for %s: %w", s.ID, err)
		}
		sessions = append(sessions, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}
