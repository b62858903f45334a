// Package store provides storage backends for WellnessPipe.
//
// This file implements a Redis-backed progress store with per-session expiry.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/BTreeMap/WellnessPipe/internal/models"
)

// DefaultRedisDialTimeout bounds connection setup to Redis.
const DefaultRedisDialTimeout = 5 * time.Second

type RedisStore struct {
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection with a ping.
func NewRedisStore(opts ...Option) (*RedisStore, error) {
	cfg := buildOpts(opts)
	if cfg.RedisAddr == "" {
		slog.Error("RedisStore address not set")
		return nil, fmt.Errorf("redis address not set")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.RedisAddr,
		DialTimeout: DefaultRedisDialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), DefaultRedisDialTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		slog.Error("Redis ping failed", "error", err, "addr", cfg.RedisAddr)
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	slog.Debug("RedisStore.NewRedisStore: connected", "addr", cfg.RedisAddr, "ttl", cfg.TTL)

	return &RedisStore{rdb: rdb, prefix: cfg.KeyPrefix, ttl: cfg.TTL}, nil
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// GetProgress implements ProgressStore.
func (s *RedisStore) GetProgress(ctx context.Context, sessionID string) (*models.StageProgress, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	data, err := s.rdb.Get(ctx, s.key(sessionID)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		slog.Error("RedisStore GetProgress failed", "error", err, "sessionID", sessionID)
		return nil, fmt.Errorf("failed to get progress for %s: %w", sessionID, err)
	}
	progress, err := decodeProgress(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode progress for %s: %w", sessionID, err)
	}
	return progress, nil
}

// SaveProgress implements ProgressStore. Every save refreshes the session's expiry.
func (s *RedisStore) SaveProgress(ctx context.Context, sessionID string, progress *models.StageProgress) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	data, err := encodeProgress(progress)
	if err != nil {
		return fmt.Errorf("failed to encode progress for %s: %w", sessionID, err)
	}
	if err := s.rdb.Set(ctx, s.key(sessionID), data, s.ttl).Err(); err != nil {
		slog.Error("RedisStore SaveProgress failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to save progress for %s: %w", sessionID, err)
	}
	return nil
}

// DeleteProgress implements ProgressStore.
func (s *RedisStore) DeleteProgress(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, s.key(sessionID)).Err(); err != nil {
		slog.Error("RedisStore DeleteProgress failed", "error", err, "sessionID", sessionID)
		return fmt.Errorf("failed to delete progress for %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
