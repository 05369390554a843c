package store

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// migrateLegacyRecord converts a legacy record.md observation file into
// record.json on first read, then deletes the .md. Each non-empty line
// becomes one migrated observation. Caller must hold s.mu.
func (s *Store) migrateLegacyRecord(threadTS string) {
	dir := s.threadDir(threadTS)
	mdPath := filepath.Join(dir, "record.md")
	jsonPath := filepath.Join(dir, "record.json")

	if _, err := os.Stat(jsonPath); err == nil {
		return
	}
	data, err := os.ReadFile(mdPath)
	if err != nil {
		return
	}

	rec := &MemoryRecord{ThreadTS: threadTS}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rec.Observations = append(rec.Observations, Observation{
			ID:          uuid.New().String(),
			Priority:    legacyPriority(line),
			Content:     strings.TrimLeft(line, PriorityHigh+PriorityMedium+PriorityLow+" "),
			SessionDate: time.Now().Format("2006-01-02"),
			CreatedAt:   time.Now(),
			Source:      SourceMigrated,
		})
	}
	if err := s.writeJSON(jsonPath, rec); err != nil {
		s.logger.Warn("Legacy record migration failed", "thread_ts", threadTS, "error", err)
		return
	}
	if err := os.Remove(mdPath); err != nil {
		s.logger.Warn("Could not remove legacy record.md", "thread_ts", threadTS, "error", err)
	}
	s.logger.Info("Migrated legacy record.md", "thread_ts", threadTS, "observations", len(rec.Observations))
}

// migrateLegacyPersistent converts a legacy persistent.md file into
// content.json on first read, then deletes the .md. Caller must hold s.mu.
func (s *Store) migrateLegacyPersistent() {
	mdPath := filepath.Join(s.root, "persistent", "persistent.md")
	jsonPath := filepath.Join(s.root, "persistent", "content.json")

	if _, err := os.Stat(jsonPath); err == nil {
		return
	}
	data, err := os.ReadFile(mdPath)
	if err != nil {
		return
	}

	var content []PersistentItem
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		content = append(content, PersistentItem{
			ID:         uuid.New().String(),
			Priority:   legacyPriority(line),
			Content:    strings.TrimLeft(line, PriorityHigh+PriorityMedium+PriorityLow+" "),
			PromotedAt: time.Now(),
		})
	}
	if err := s.writeJSON(jsonPath, content); err != nil {
		s.logger.Warn("Legacy persistent migration failed", "error", err)
		return
	}
	if err := os.Remove(mdPath); err != nil {
		s.logger.Warn("Could not remove legacy persistent.md", "error", err)
	}
	s.logger.Info("Migrated legacy persistent.md", "items", len(content))
}

func legacyPriority(line string) string {
	switch {
	case strings.HasPrefix(line, PriorityHigh):
		return PriorityHigh
	case strings.HasPrefix(line, PriorityLow):
		return PriorityLow
	default:
		return PriorityMedium
	}
}
