package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/WellnessPipe/internal/models"
	"github.com/BTreeMap/WellnessPipe/internal/store"
	"github.com/google/uuid"
)

// SessionManager runs the Engine against stored progress records and
// serializes requests per session.
type SessionManager struct {
	engine *Engine
	store  store.ProgressStore
	locks  *sessionLocks
}

// NewSessionManager creates a session manager over the given store.
func NewSessionManager(engine *Engine, st store.ProgressStore) *SessionManager {
	return &SessionManager{engine: engine, store: st, locks: newSessionLocks()}
}

// Engine returns the underlying state machine.
func (m *SessionManager) Engine() *Engine {
	return m.engine
}

// Start opens a new session positioned on the first stage. The first stage's
// introduction is recorded as the opening assistant utterance.
func (m *SessionManager) Start(ctx context.Context) (string, *models.StageProgress, string, error) {
	progress := m.engine.InitializeProgress()
	intro, err := m.engine.StageIntroduction(ctx, progress.CurrentStage)
	if err != nil {
		return "", nil, "", err
	}
	progress.AppendMessage(progress.CurrentStage, models.AssistantUtterance(intro, progress.StartedAt))

	sessionID := uuid.NewString()
	if err := m.store.SaveProgress(ctx, sessionID, progress); err != nil {
		slog.Error("SessionManager.Start: failed to save progress", "error", err, "sessionID", sessionID)
		return "", nil, "", fmt.Errorf("failed to save new session: %w", err)
	}
	slog.Info("SessionManager.Start: session started", "sessionID", sessionID, "stage", progress.CurrentStage)
	return sessionID, progress, intro, nil
}

// Respond processes one user message for a session. The stored progress is
// replaced only when the turn succeeds, so a failed turn can be retried.
func (m *SessionManager) Respond(ctx context.Context, sessionID, text string) (TurnResult, error) {
	unlock := m.locks.lock(sessionID)
	defer unlock()

	progress, err := m.load(ctx, sessionID)
	if err != nil {
		return TurnResult{}, err
	}

	result, err := m.engine.ProcessUserResponse(ctx, text, progress)
	if err != nil {
		slog.Warn("SessionManager.Respond: turn failed", "error", err, "sessionID", sessionID, "stage", progress.CurrentStage)
		return result, err
	}

	if err := m.store.SaveProgress(ctx, sessionID, result.Progress); err != nil {
		slog.Error("SessionManager.Respond: failed to save progress", "error", err, "sessionID", sessionID)
		return TurnResult{}, fmt.Errorf("failed to save session %s: %w", sessionID, err)
	}
	slog.Debug("SessionManager.Respond: turn processed", "sessionID", sessionID, "stage", result.Progress.CurrentStage, "advanced", result.Advanced)
	return result, nil
}

// Progress returns the stored progress of a session.
func (m *SessionManager) Progress(ctx context.Context, sessionID string) (*models.StageProgress, error) {
	unlock := m.locks.lock(sessionID)
	defer unlock()
	return m.load(ctx, sessionID)
}

// Result finalizes the data collected so far in a session.
func (m *SessionManager) Result(ctx context.Context, sessionID string) (models.WellnessData, error) {
	progress, err := m.Progress(ctx, sessionID)
	if err != nil {
		return models.WellnessData{}, err
	}
	return m.engine.Finalize(progress)
}

// Reset deletes a session.
func (m *SessionManager) Reset(ctx context.Context, sessionID string) error {
	unlock := m.locks.lock(sessionID)
	defer unlock()

	if _, err := m.load(ctx, sessionID); err != nil {
		return err
	}
	if err := m.store.DeleteProgress(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	slog.Info("SessionManager.Reset: session deleted", "sessionID", sessionID)
	return nil
}

func (m *SessionManager) load(ctx context.Context, sessionID string) (*models.StageProgress, error) {
	progress, err := m.store.GetProgress(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if progress == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return progress, nil
}

// sessionLocks is a reference-counted table of per-session mutexes.
type sessionLocks struct {
	mu      sync.Mutex
	entries map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{entries: make(map[string]*sessionLock)}
}

// lock acquires the mutex of id and returns its release function.
func (l *sessionLocks) lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.entries[id]
	if !ok {
		entry = &sessionLock{}
		l.entries[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, id)
		}
		l.mu.Unlock()
	}
}

// size reports how many sessions currently hold or wait for a lock.
func (l *sessionLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
