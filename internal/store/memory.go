package store

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/WellnessPipe/internal/models"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// InMemoryStore keeps progress records in a bounded LRU whose entries expire
// after the configured TTL. Records are copied on the way in and out.
type InMemoryStore struct {
	sessions *expirable.LRU[string, *models.StageProgress]
}

// NewInMemoryStore creates an in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	cfg := buildOpts(opts)
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	onEvict := func(sessionID string, _ *models.StageProgress) {
		slog.Debug("InMemoryStore: session evicted", "sessionID", sessionID)
	}
	return &InMemoryStore{
		sessions: expirable.NewLRU[string, *models.StageProgress](cfg.Capacity, onEvict, cfg.TTL),
	}
}

// GetProgress implements ProgressStore.
func (s *InMemoryStore) GetProgress(ctx context.Context, sessionID string) (*models.StageProgress, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}
	progress, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, nil
	}
	return progress.Clone(), nil
}

// SaveProgress implements ProgressStore.
func (s *InMemoryStore) SaveProgress(ctx context.Context, sessionID string, progress *models.StageProgress) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	if progress == nil {
		return ErrNilProgress
	}
	s.sessions.Add(sessionID, progress.Clone())
	return nil
}

// DeleteProgress implements ProgressStore.
func (s *InMemoryStore) DeleteProgress(ctx context.Context, sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}
	s.sessions.Remove(sessionID)
	return nil
}

// Len returns the number of live sessions.
func (s *InMemoryStore) Len() int {
	return s.sessions.Len()
}

// Close implements ProgressStore.
func (s *InMemoryStore) Close() error {
	s.sessions.Purge()
	return nil
}
