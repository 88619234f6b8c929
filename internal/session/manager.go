// Package session tracks per-client proxy state: the session record itself,
// its cookie jar, and its authentication state.
//
// Everything here is process-scoped and in-memory; a restart loses all
// sessions and jars.
package session

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"mirror-proxy-go/internal/config"
	"mirror-proxy-go/internal/store"
)

// CookieName is the cookie carrying the proxy's own session token.
const CookieName = "mirror_session"

// ProxySession is the per-client state bound to an opaque token.
type ProxySession struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	jar          map[string]CookieRecord
	lastActivity time.Time
}

// Touch records activity on the session.
func (s *ProxySession) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity returns the time of the most recent request on this session.
func (s *ProxySession) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Manager owns the session table and the token scheme binding clients to it.
// Tokens are "id.signature" where the signature is an HMAC-SHA256 of the id
// under the configured secret, so a client cannot mint or swap ids.
type Manager struct {
	logger   *slog.Logger
	sessions store.Store[*ProxySession]
	tracker  *Tracker
	secret   []byte
	ttl      time.Duration

	mu sync.Mutex // guards the verify-then-create sequence in Ensure
}

// NewManager creates a Manager. The tracker parameter is optional; when set,
// its record for a session is cleared together with the expired session.
// An empty configured secret is replaced by a random per-process one.
func NewManager(cfg *config.Config, logger *slog.Logger, tracker *Tracker) *Manager {
	secret := []byte(cfg.Session.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic("session: cannot read random secret: " + err.Error())
		}
		logger.Warn("session.secret not configured, using a random per-process secret")
	}

	return &Manager{
		logger:   logger.With("component", "session_manager"),
		sessions: store.NewMemory[*ProxySession](),
		tracker:  tracker,
		secret:   secret,
		ttl:      time.Duration(cfg.Session.TTLSeconds) * time.Second,
	}
}

// Ensure returns the session named by the presented token, creating one
// lazily when the token is absent, tampered with, unknown, or names an
// expired session. The returned setToken is non-empty exactly when a new
// session was created and must be handed back to the client.
//
// Sessions never expire by default; expiry only applies when a TTL is
// configured, and is checked lazily here rather than by a sweeper.
func (m *Manager) Ensure(token string) (s *ProxySession, setToken string, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != "" {
		if id, ok := m.verify(token); ok {
			if existing, ok := m.sessions.Get(id); ok {
				if m.expired(existing) {
					m.evict(existing)
				} else {
					existing.Touch()
					return existing, "", false
				}
			}
		}
	}

	now := time.Now()
	s = &ProxySession{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		jar:          make(map[string]CookieRecord),
		lastActivity: now,
	}
	m.sessions.Put(s.ID, s)
	m.logger.Debug("session created", "session_id", s.ID)
	return s, m.token(s.ID), true
}

// Get returns a live session by id without touching it.
func (m *Manager) Get(id string) (*ProxySession, bool) {
	s, ok := m.sessions.Get(id)
	if !ok || m.expired(s) {
		return nil, false
	}
	return s, true
}

// Count returns the number of tracked sessions.
func (m *Manager) Count() int {
	return m.sessions.Len()
}

func (m *Manager) expired(s *ProxySession) bool {
	return m.ttl > 0 && time.Since(s.LastActivity()) > m.ttl
}

func (m *Manager) evict(s *ProxySession) {
	m.sessions.Delete(s.ID)
	if m.tracker != nil {
		m.tracker.Clear(s.ID)
	}
	m.logger.Debug("session expired", "session_id", s.ID)
}

func (m *Manager) token(id string) string {
	return id + "." + m.sign(id)
}

func (m *Manager) sign(id string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(id))
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *Manager) verify(token string) (string, bool) {
	id, sig, ok := strings.Cut(token, ".")
	if !ok || id == "" {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(m.sign(id))) {
		return "", false
	}
	return id, true
}
