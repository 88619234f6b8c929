package session

import (
	"log/slog"
	"sync"
	"time"

	"mirror-proxy-go/internal/store"
)

// AuthState is the per-session authentication record.
type AuthState struct {
	Authenticated bool
	User          string
	LoginAt       time.Time
	LastActivity  time.Time
}

// AuthStats summarizes the tracked sessions.
type AuthStats struct {
	Sessions      int `json:"sessions"`
	Authenticated int `json:"authenticated"`
}

// Tracker keeps authentication state per session id. Records are value
// types read-modified-written under one mutex; the store itself could be
// swapped for a persistent one without changing callers.
type Tracker struct {
	logger *slog.Logger
	states store.Store[AuthState]
	mu     sync.Mutex
}

// NewTracker creates an empty Tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		logger: logger.With("component", "auth_tracker"),
		states: store.NewMemory[AuthState](),
	}
}

// Touch lazily initializes the record for sessionID and updates its
// last-activity time, regardless of authentication outcome. It returns the
// resulting state.
func (t *Tracker) Touch(sessionID string) AuthState {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, _ := t.states.Get(sessionID)
	state.LastActivity = time.Now()
	t.states.Put(sessionID, state)
	return state
}

// SetAuthenticated marks the session as authenticated for user and records
// the login time. It is called by login logic outside this package.
func (t *Tracker) SetAuthenticated(sessionID, user string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	state, _ := t.states.Get(sessionID)
	state.Authenticated = true
	state.User = user
	state.LoginAt = now
	state.LastActivity = now
	t.states.Put(sessionID, state)
	t.logger.Info("session authenticated", "session_id", sessionID, "user", user)
}

// State returns the record for sessionID, reporting whether one exists.
func (t *Tracker) State(sessionID string) (AuthState, bool) {
	return t.states.Get(sessionID)
}

// Clear removes the record for sessionID.
func (t *Tracker) Clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states.Delete(sessionID)
}

// Stats reports the tracked session total and the authenticated subset.
// Purely derived; no side effects.
func (t *Tracker) Stats() AuthStats {
	stats := AuthStats{}
	t.states.Range(func(_ string, state AuthState) bool {
		stats.Sessions++
		if state.Authenticated {
			stats.Authenticated++
		}
		return true
	})
	return stats
}
