// Package store provides storage backends for WellnessPipe.
//
// This file implements a PostgreSQL-backed progress store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/WellnessPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := buildOpts(opts)
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// GetProgress implements ProgressStore.
func (s *PostgresStore) GetProgress(ctx context.Context, sessionID string) (*models.StageProgress, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT progress_json FROM session_progress WHERE session_id = $1`, sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetProgress failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to query progress for %s: %w", sessionID, err)
	}
	progress, err := decodeProgress(data)
	if err != nil {
		slog.Error("PostgresStore GetProgress decode failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to decode progress for %s: %w", sessionID, err)
	}
	return progress, nil
}

// SaveProgress implements ProgressStore.
func (s *PostgresStore) SaveProgress(ctx context.Context, sessionID string, progress *models.StageProgress) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	data, err := encodeProgress(progress)
	if err != nil {
		return fmt.Errorf("failed to encode progress for %s: %w", sessionID, err)
	}
	query := `
		INSERT INTO session_progress (session_id, current_stage, progress_json, started_at, last_active_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
			current_stage = EXCLUDED.current_stage,
			progress_json = EXCLUDED.progress_json,
			last_active_at = EXCLUDED.last_active_at`
	if _, err := s.db.ExecContext(ctx, query, sessionID, string(progress.CurrentStage), data, progress.StartedAt, progress.LastActiveAt); err != nil {
		slog.Error("PostgresStore SaveProgress failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to save progress for %s: %w", sessionID, err)
	}
	slog.Debug("PostgresStore SaveProgress succeeded", "sessionID", sessionID, "stage", progress.CurrentStage)
	return nil
}

// DeleteProgress implements ProgressStore.
func (s *PostgresStore) DeleteProgress(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_progress WHERE session_id = $1`, sessionID); err != nil {
		slog.Error("PostgresStore DeleteProgress failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete progress for %s: %w", sessionID, err)
	}
	return nil
}

// DeleteInactiveBefore removes sessions idle since before cutoff and reports how many were removed.
func (s *PostgresStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM session_progress WHERE last_active_at < $1`, cutoff)
	if err != nil {
		slog.Error("PostgresStore DeleteInactiveBefore failed", "error", err)
		return 0, fmt.Errorf("failed to delete inactive sessions: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
