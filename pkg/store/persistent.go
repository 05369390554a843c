package store

import (
	"fmt"
	"path/filepath"
	"time"
)

// GetPersistent loads the persistent memory content and meta.
// Legacy persistent.md files are migrated on first read.
func (s *Store) GetPersistent() ([]PersistentItem, PersistentMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.migrateLegacyPersistent()

	var content []PersistentItem
	var meta PersistentMeta
	s.readJSON(filepath.Join(s.root, "persistent", "content.json"), &content)
	s.readJSON(filepath.Join(s.root, "persistent", "meta.json"), &meta)
	return content, meta
}

// SavePersistent archives the prior content keyed by the current time, then
// atomically writes the new content and meta.
func (s *Store) SavePersistent(content []PersistentItem, meta PersistentMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	contentPath := filepath.Join(s.root, "persistent", "content.json")

	var prior []PersistentItem
	if s.readJSON(contentPath, &prior) {
		archivePath := filepath.Join(s.root, "persistent", "archive",
			fmt.Sprintf("%d.json", time.Now().UnixNano()))
		if err := s.writeJSON(archivePath, prior); err != nil {
			return fmt.Errorf("archiving persistent memory: %w", err)
		}
	}

	if err := s.writeJSON(contentPath, content); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now()
	return s.writeJSON(filepath.Join(s.root, "persistent", "meta.json"), meta)
}
