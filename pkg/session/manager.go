// Package session holds the in-memory table of chat-thread → Session and the
// per-thread mutual exclusion primitives that serialize agent turns.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// Manager manages sessions in memory, keyed by thread ts, with periodic
// flush to disk for durability.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	locks    map[string]*ThreadLock
	running  map[string]bool

	store     flushStore
	flushPath string
	logger    *slog.Logger
}

// flushStore is the subset of the store used for durability.
type flushStore interface {
	Root() string
}

// NewManager creates a session manager. If st is non-nil, the table is
// loaded from and periodically flushed to <store root>/sessions.json.
func NewManager(st flushStore) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*ThreadLock),
		running:  make(map[string]bool),
		store:    st,
		logger:   slog.Default().With("component", "session-manager"),
	}
	if st != nil {
		m.flushPath = filepath.Join(st.Root(), "sessions.json")
		m.loadFromDisk()
	}
	return m
}

// Create registers a new session for a thread. Creating a thread that
// already has a session returns the existing one.
func (m *Manager) Create(threadTS, channelID, userID, username string, role Role, source SourceType) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[threadTS]; ok {
		return existing.Clone()
	}
	now := time.Now()
	s := &Session{
		ThreadTS:     threadTS,
		ChannelID:    channelID,
		UserID:       userID,
		Username:     username,
		Role:         role,
		SourceType:   source,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	m.sessions[threadTS] = s
	m.logger.Info("Session created",
		"thread_ts", threadTS, "channel_id", channelID, "role", role, "source", source)
	return s.Clone()
}

// Get returns the session bound to a thread.
func (m *Manager) Get(threadTS string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[threadTS]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", threadTS)
	}
	return s.Clone(), nil
}

// UpdateSessionID records the agent-assigned session id. A non-empty id is
// never cleared, only replaced by a new value (e.g. post-compact).
func (m *Manager) UpdateSessionID(threadTS, sessionID string) {
	if sessionID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[threadTS]; ok {
		s.SessionID = sessionID
		s.LastActiveAt = time.Now()
	}
}

// IncrementMessageCount bumps the turn counter for a thread.
func (m *Manager) IncrementMessageCount(threadTS string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[threadTS]; ok {
		s.MessageCount++
		s.LastActiveAt = time.Now()
	}
}

// Lock returns the thread's re-entrant lock, creating it on first use.
// This lock is the sole authority for serializing agent turns on a thread.
func (m *Manager) Lock(threadTS string) *ThreadLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[threadTS]
	if !ok {
		l = newThreadLock()
		m.locks[threadTS] = l
	}
	return l
}

// MarkRunning flags a thread as having an active agent turn.
func (m *Manager) MarkRunning(threadTS string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running[threadTS] = true
}

// MarkStopped clears the active-turn flag for a thread.
func (m *Manager) MarkStopped(threadTS string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, threadTS)
}

// RunningCount returns the number of threads with an active agent turn.
// The deployer uses this to detect safe-to-deploy.
func (m *Manager) RunningCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.running)
}

// StartFlusher periodically flushes the session table until ctx is done.
func (m *Manager) StartFlusher(ctx context.Context, interval time.Duration) {
	if m.flushPath == "" {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				m.Flush()
				return
			case <-ticker.C:
				m.Flush()
			}
		}
	}()
}
