// Package store provides storage backends for interview progress records.
//
// It includes a bounded in-memory store and persistent SQLite, PostgreSQL
// and Redis backends.
package store

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/WellnessPipe/internal/models"
)

// Errors returned by every backend.
var (
	ErrInvalidSessionID = errors.New("session id is empty")
	ErrNilProgress      = errors.New("progress is nil")
)

// Default store settings.
const (
	DefaultCapacity  = 10000
	DefaultTTL       = 24 * time.Hour
	DefaultKeyPrefix = "wellnesspipe:session:"
)

// DSN types reported by DetectDSNType.
const (
	DSNTypeSQLite   = "sqlite"
	DSNTypePostgres = "postgres"
)

// ProgressStore persists StageProgress records keyed by session id.
type ProgressStore interface {
	// GetProgress returns nil, nil when no record exists for the id.
	GetProgress(ctx context.Context, sessionID string) (*models.StageProgress, error)
	SaveProgress(ctx context.Context, sessionID string, progress *models.StageProgress) error
	DeleteProgress(ctx context.Context, sessionID string) error
	Close() error
}

// Sweeper is implemented by backends without native expiry.
type Sweeper interface {
	DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Opts holds configuration for the store backends.
type Opts struct {
	DSN       string
	DSNType   string
	RedisAddr string
	KeyPrefix string
	TTL       time.Duration
	Capacity  int
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN selects the SQLite backend with the given database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.DSNType = DSNTypeSQLite
	}
}

// WithPostgresDSN selects the PostgreSQL backend with the given connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.DSNType = DSNTypePostgres
	}
}

// WithRedisAddr selects the Redis backend at the given address.
func WithRedisAddr(addr string) Option {
	return func(o *Opts) {
		o.RedisAddr = addr
	}
}

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) {
		o.KeyPrefix = prefix
	}
}

// WithTTL sets how long an idle session is kept by the in-memory and Redis backends.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) {
		o.TTL = ttl
	}
}

// WithCapacity bounds the number of sessions held by the in-memory backend.
func WithCapacity(capacity int) Option {
	return func(o *Opts) {
		o.Capacity = capacity
	}
}

func buildOpts(opts []Option) Opts {
	cfg := Opts{
		KeyPrefix: DefaultKeyPrefix,
		TTL:       DefaultTTL,
		Capacity:  DefaultCapacity,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// DetectDSNType classifies a DSN as PostgreSQL or SQLite.
func DetectDSNType(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// NewFromOptions builds the backend selected by the options: Redis when an
// address is set, otherwise the SQL backend of the DSN, otherwise in-memory.
func NewFromOptions(opts ...Option) (ProgressStore, error) {
	cfg := buildOpts(opts)
	switch {
	case cfg.RedisAddr != "":
		slog.Debug("store.NewFromOptions: selecting Redis store")
		return NewRedisStore(opts...)
	case cfg.DSN != "" && (cfg.DSNType == DSNTypePostgres || (cfg.DSNType == "" && DetectDSNType(cfg.DSN) == DSNTypePostgres)):
		slog.Debug("store.NewFromOptions: selecting Postgres store")
		return NewPostgresStore(opts...)
	case cfg.DSN != "":
		slog.Debug("store.NewFromOptions: selecting SQLite store")
		return NewSQLiteStore(opts...)
	default:
		slog.Debug("store.NewFromOptions: selecting in-memory store")
		return NewInMemoryStore(opts...), nil
	}
}

func validateSessionID(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidSessionID
	}
	return nil
}

// encodeProgress serializes a progress record for the persistent backends.
func encodeProgress(progress *models.StageProgress) (string, error) {
	if progress == nil {
		return "", ErrNilProgress
	}
	return progress.ToJSON()
}

func decodeProgress(data string) (*models.StageProgress, error) {
	var progress models.StageProgress
	if err := progress.FromJSON(data); err != nil {
		return nil, err
	}
	return &progress, nil
}
