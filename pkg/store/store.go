// Package store is the filesystem-backed keyed store for session records,
// memory, channel buffers and tracker state.
//
// Layout under the configured root:
//
//	threads/<thread_ts>/{record.json, candidates.json}
//	persistent/{content.json, meta.json, archive/<ts>.json}
//	channels/<channel_id>/{digest.json, judged.json, pending.json, threads/<root_ts>.json}
//	intervention/<channel_id>.json
//	tracker/{tracked_cards.json, thread_cards.json, list_run_sessions.json}
//
// Every write is atomic at file granularity (write-to-temp + rename).
// Corrupted files are treated as empty containers, never as fatal.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store is a filesystem-backed keyed store rooted at a base directory.
type Store struct {
	root   string
	mu     sync.Mutex
	logger *slog.Logger
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	return &Store{
		root:   dir,
		logger: slog.Default().With("component", "store"),
	}, nil
}

// Root returns the base directory of the store.
func (s *Store) Root() string { return s.root }

func (s *Store) threadDir(threadTS string) string {
	return filepath.Join(s.root, "threads", sanitize(threadTS))
}

func (s *Store) channelDir(channelID string) string {
	return filepath.Join(s.root, "channels", sanitize(channelID))
}

func (s *Store) trackerPath(name string) string {
	return filepath.Join(s.root, "tracker", name)
}

// sanitize keeps ts/id values safe as path segments.
func sanitize(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}

// writeJSON marshals v and atomically replaces path.
func (s *Store) writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// readJSON loads path into v. Missing or corrupted files leave v untouched
// and return false; corruption is logged.
func (s *Store) readJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Unreadable store file, treating as empty", "path", path, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		s.logger.Warn("Corrupted store file, treating as empty", "path", path, "error", err)
		return false
	}
	return true
}
