package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/answerd/internal/cache"
)

// cacheRepo implements cache.Repository.
type cacheRepo struct {
	db *sql.DB
}

func (r *cacheRepo) Insert(ctx context.Context, entry cache.Entry) error {
	embedding, err := json.Marshal(entry.Embedding)
	if err != nil {
		return fmt.Errorf("marshaling embedding: %w", err)
	}
	sources, err := json.Marshal(entry.DocumentSources)
	if err != nil {
		return fmt.Errorf("marshaling document sources: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cache_entries
			(id, owner, question, answer, source, model, document_sources, embedding, usage_count, created_at, last_used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Owner, entry.Question, entry.Answer, entry.Source, entry.Model,
		string(sources), string(embedding), entry.UsageCount, entry.CreatedAt, entry.LastUsedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting cache entry: %w", err)
	}
	return nil
}

func (r *cacheRepo) Recent(ctx context.Context, owner string, limit int) ([]cache.Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner, question, answer, source, model, document_sources, embedding, usage_count, created_at, last_used_at
		FROM cache_entries
		WHERE owner = ?
		ORDER BY created_at DESC
		LIMIT ?`,
		owner, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent cache entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []cache.Entry
	for rows.Next() {
		var e cache.Entry
		var sources, embedding string
		if err := rows.Scan(&e.ID, &e.Owner, &e.Question, &e.Answer, &e.Source, &e.Model,
			&sources, &embedding, &e.UsageCount, &e.CreatedAt, &e.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scanning cache entry: %w", err)
		}
		if err := json.Unmarshal([]byte(embedding), &e.Embedding); err != nil {
			return nil, fmt.Errorf("unmarshaling embedding for %s: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(sources), &e.DocumentSources); err != nil {
			return nil, fmt.Errorf("unmarshaling document sources for %s: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cache entries: %w", err)
	}
	return entries, nil
}

func (r *cacheRepo) Touch(ctx context.Context, id string, lastUsedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE cache_entries
		SET usage_count = usage_count + 1, last_used_at = ?
		WHERE id = ?`,
		lastUsedAt, id,
	)
	if err != nil {
		return fmt.Errorf("touching cache entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking touch result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("cache entry %s not found", id)
	}
	return nil
}

func (r *cacheRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE last_used_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old cache entries: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted cache entries: %w", err)
	}
	return removed, nil
}
