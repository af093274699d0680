package identity

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StateStore is the durable key/value capability the manager needs for the
// visitor id. Implemented by the sqlite queue store.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, bool, error)
	SetState(ctx context.Context, key, value string) error
}

const visitorIDKey = "visitor_id"

// Manager owns the durable visitor identifier and the in-memory session. The
// visitor id survives restarts; a session lives only as long as the process
// and rolls over after inactivity exceeding the configured timeout.
type Manager struct {
	store StateStore

	mu           sync.Mutex
	visitorID    string
	sessionID    string
	lastActivity time.Time
}

func New(store StateStore) *Manager {
	return &Manager{store: store}
}

// VisitorID returns the durable visitor identifier, generating and persisting
// one on first call. Cached in memory afterwards.
func (m *Manager) VisitorID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.visitorID != "" {
		return m.visitorID, nil
	}

	id, ok, err := m.store.GetState(ctx, visitorIDKey)
	if err != nil {
		return "", fmt.Errorf("load visitor id: %w", err)
	}
	if !ok {
		id = newVisitorID()
		if err = m.store.SetState(ctx, visitorIDKey, id); err != nil {
			return "", fmt.Errorf("persist visitor id: %w", err)
		}
	}

	m.visitorID = id
	return id, nil
}

// SessionID returns the active session id. A new id is generated when a
// restart is forced, when no session exists yet, or when the time since the
// last activity exceeds timeout. Every call counts as activity.
func (m *Manager) SessionID(now time.Time, timeout time.Duration, forceRestart bool) (id string, started bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expired := m.sessionID != "" && now.Sub(m.lastActivity) > timeout
	if forceRestart || m.sessionID == "" || expired {
		m.sessionID = uuid.New().String()
		started = true
	}

	m.lastActivity = now
	return m.sessionID, started
}

// newVisitorID derives the 16 hex character id the remote protocol expects
// from a random uuid.
func newVisitorID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:8])
}
