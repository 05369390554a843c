package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetRecord loads the per-thread memory record, creating an empty one if
// none exists. Legacy record.md files are migrated on first read.
func (s *Store) GetRecord(threadTS string) *MemoryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.migrateLegacyRecord(threadTS)

	rec := &MemoryRecord{ThreadTS: threadTS}
	s.readJSON(filepath.Join(s.threadDir(threadTS), "record.json"), rec)
	if rec.ThreadTS == "" {
		rec.ThreadTS = threadTS
	}
	return rec
}

// SaveRecord atomically persists the per-thread memory record.
func (s *Store) SaveRecord(rec *MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(filepath.Join(s.threadDir(rec.ThreadTS), "record.json"), rec)
}

// AppendCandidates adds promotion candidates to the per-thread candidates file.
func (s *Store) AppendCandidates(threadTS string, cands []Candidate) error {
	if len(cands) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.threadDir(threadTS), "candidates.json")
	var existing []Candidate
	s.readJSON(path, &existing)
	existing = append(existing, cands...)
	return s.writeJSON(path, existing)
}

// LoadAllCandidates returns every candidate across all threads, keyed by thread.
func (s *Store) LoadAllCandidates() map[string][]Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]Candidate)
	threadsDir := filepath.Join(s.root, "threads")
	entries, err := os.ReadDir(threadsDir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		var cands []Candidate
		if s.readJSON(filepath.Join(threadsDir, e.Name(), "candidates.json"), &cands) && len(cands) > 0 {
			out[e.Name()] = cands
		}
	}
	return out
}

// ClearCandidates removes every candidates file across all threads.
func (s *Store) ClearCandidates() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	threadsDir := filepath.Join(s.root, "threads")
	entries, err := os.ReadDir(threadsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading threads dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(threadsDir, e.Name(), "candidates.json")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	return nil
}
