// Package store provides storage backends for WellnessPipe.
//
// This file implements an SQLite-backed progress store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/WellnessPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := buildOpts(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single writer avoids SQLITE_BUSY under concurrent sessions.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		_ = db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "db_path", dsn)

	return &SQLiteStore{db: db}, nil
}

// GetProgress implements ProgressStore.
func (s *SQLiteStore) GetProgress(ctx context.Context, sessionID string) (*models.StageProgress, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT progress_json FROM session_progress WHERE session_id = ?`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetProgress failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query progress for %s: %w", sessionID, err)
	}
	progress, err := decodeProgress(data)
	if err != nil {
		slog.Error("SQLiteStore GetProgress decode failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to decode progress for %s: %w", sessionID, err)
	}
	return progress, nil
}

// SaveProgress implements ProgressStore.
func (s *SQLiteStore) SaveProgress(ctx context.Context, sessionID string, progress *models.StageProgress) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	data, err := encodeProgress(progress)
	if err != nil {
		return fmt.Errorf("failed to encode progress for %s: %w", sessionID, err)
	}
	query := `
		INSERT INTO session_progress (session_id, current_stage, progress_json, started_at, last_active_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			current_stage = excluded.current_stage,
			progress_json = excluded.progress_json,
			last_active_at = excluded.last_active_at`
	if _, err := s.db.ExecContext(ctx, query, sessionID, string(progress.CurrentStage), data, progress.StartedAt.UTC(), progress.LastActiveAt.UTC()); err != nil {
		slog.Error("SQLiteStore SaveProgress failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to save progress for %s: %w", sessionID, err)
	}
	slog.Debug("SQLiteStore SaveProgress succeeded", "sessionID", sessionID, "stage", progress.CurrentStage)
	return nil
}

// DeleteProgress implements ProgressStore.
func (s *SQLiteStore) DeleteProgress(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_progress WHERE session_id = ?`, sessionID); err != nil {
		slog.Error("SQLiteStore DeleteProgress failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete progress for %s: %w", sessionID, err)
	}
	return nil
}

// DeleteInactiveBefore removes sessions idle since before cutoff and reports how many were removed.
func (s *SQLiteStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_progress WHERE last_active_at < ?`, cutoff.UTC())
	if err != nil {
		slog.Error("SQLiteStore DeleteInactiveBefore failed", "error", err)
		return 0, fmt.Errorf("failed to delete inactive sessions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
