package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Source types.
const (
	SourceLocal = "local"
	SourceGit   = "git"
)

// Source represents a lesson source, either a local path or a Git URL.
type Source struct {
	ID          int64        `db:"id"`
	Path        string       `db:"path"`
	Type        string       `db:"type"`
	LastScanned sql.NullTime `db:"last_scanned"`
}

// MarshalJSON renders a never-scanned source with a null last_scanned.
func (s Source) MarshalJSON() ([]byte, error) {
	var scanned *time.Time
	if s.LastScanned.Valid {
		scanned = &s.LastScanned.Time
	}
	return json.Marshal(struct {
		ID          int64      `json:"id"`
		Path        string     `json:"path"`
		Type        string     `json:"type"`
		LastScanned *time.Time `json:"last_scanned"`
	}{s.ID, s.Path, s.Type, scanned})
}

// InsertSource inserts a new source into the database and returns its ID.
func (db *DB) InsertSource(ctx context.Context, path, sourceType string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO sources (path, type)
		VALUES (?, ?)
	`, path, sourceType)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for source %s: %w", path, err)
	}
	return id, nil
}

// FindSourceByPath retrieves a source by its path, or ErrNotFound.
func (db *DB) FindSourceByPath(ctx context.Context, path string) (Source, error) {
	var s Source
	err := db.conn.GetContext(ctx, &s, `SELECT id, path, type, last_scanned FROM sources WHERE path = ?`, path)
	if errors.Is(err, sql.ErrNoRows) {
		return Source{}, ErrNotFound
	}
	if err != nil {
		return Source{}, fmt.Errorf("failed to find source by path %s: %w", path, err)
	}
	return s, nil
}

// GetAllSources retrieves all stored sources.
func (db *DB) GetAllSources(ctx context.Context) ([]Source, error) {
	var sources []Source
	if err := db.conn.SelectContext(ctx, &sources, `SELECT id, path, type, last_scanned FROM sources ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to get all sources: %w", err)
	}
	return sources, nil
}

// UpdateSourceLastScanned records when a source was last reconciled.
func (db *DB) UpdateSourceLastScanned(ctx context.Context, sourceID int64, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE sources SET last_scanned = ? WHERE id = ?`, at.UTC(), sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return nil
}

// DeleteSource removes a source with its lessons and items. Review cards are kept.
func (db *DB) DeleteSource(ctx context.Context, sourceID int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, sourceID)
	if err != nil {
		return fmt.Errorf("failed to delete source ID %d: %w", sourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
