package session

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// loadFromDisk restores the session table from the flush file, if present.
func (m *Manager) loadFromDisk() {
	data, err := os.ReadFile(m.flushPath)
	if err != nil {
		return
	}
	var sessions map[string]*Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		m.logger.Warn("Corrupted sessions file, starting empty", "path", m.flushPath, "error", err)
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for ts, s := range sessions {
		m.sessions[ts] = s
	}
	m.logger.Info("Restored sessions from disk", "count", len(sessions))
}

// Flush writes the session table atomically (temp + rename).
func (m *Manager) Flush() {
	if m.flushPath == "" {
		return
	}
	m.mu.RLock()
	data, err := json.MarshalIndent(m.sessions, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		m.logger.Error("Failed to marshal sessions", "error", err)
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(m.flushPath), ".sessions-*")
	if err != nil {
		m.logger.Error("Failed to create sessions temp file", "error", err)
		return
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		m.logger.Error("Failed to write sessions", "error", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		m.logger.Error("Failed to close sessions temp file", "error", err)
		return
	}
	if err := os.Rename(name, m.flushPath); err != nil {
		os.Remove(name)
		m.logger.Error("Failed to replace sessions file", "error", err)
	}
}
