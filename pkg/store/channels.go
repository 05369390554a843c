package store

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrDuplicateTS is returned when a message ts already exists in a channel's
// pending, judged or thread buffers.
var ErrDuplicateTS = errors.New("duplicate message ts")

// TokenCounter estimates token counts for buffer thresholds.
type TokenCounter interface {
	Count(text string) int
}

// LoadPending returns the not-yet-judged messages of a channel.
func (s *Store) LoadPending(channelID string) []ChannelMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadMessages(filepath.Join(s.channelDir(channelID), "pending.json"))
}

// LoadJudged returns the already-judged messages of a channel.
func (s *Store) LoadJudged(channelID string) []ChannelMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadMessages(filepath.Join(s.channelDir(channelID), "judged.json"))
}

// AppendPending adds a message to the channel's pending buffer.
// A ts already present anywhere in the channel's buffers is rejected
// with ErrDuplicateTS.
func (s *Store) AppendPending(channelID string, msg ChannelMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tsKnown(channelID, msg.TS) {
		return ErrDuplicateTS
	}
	path := filepath.Join(s.channelDir(channelID), "pending.json")
	pending := s.loadMessages(path)
	pending = append(pending, msg)
	return s.writeJSON(path, pending)
}

// AppendJudged adds messages directly to the judged buffer.
func (s *Store) AppendJudged(channelID string, msgs []ChannelMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendJudgedLocked(channelID, msgs)
}

// ClearJudged empties the judged buffer (after it has been folded into the digest).
func (s *Store) ClearJudged(channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(filepath.Join(s.channelDir(channelID), "judged.json"), []ChannelMessage{})
}

// AppendThreadMessage adds a message to the buffer of a channel thread.
func (s *Store) AppendThreadMessage(channelID, rootTS string, msg ChannelMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tsKnown(channelID, msg.TS) {
		return ErrDuplicateTS
	}
	path := filepath.Join(s.channelDir(channelID), "threads", sanitize(rootTS)+".json")
	msgs := s.loadMessages(path)
	msgs = append(msgs, msg)
	return s.writeJSON(path, msgs)
}

// LoadAllThreadBuffers returns every thread buffer of a channel keyed by root ts.
func (s *Store) LoadAllThreadBuffers(channelID string) map[string][]ChannelMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadThreadBuffersLocked(channelID)
}

// MoveSnapshotToJudged moves exactly the pending messages whose ts is in
// pendingTS, plus the thread buffers whose root is in threadRoots, into the
// judged buffer. Messages that arrived after the snapshot stay in pending.
// This is the sole mechanism that clears pending entries.
func (s *Store) MoveSnapshotToJudged(channelID string, pendingTS map[string]bool, threadRoots map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pendingPath := filepath.Join(s.channelDir(channelID), "pending.json")
	pending := s.loadMessages(pendingPath)

	var moved, kept []ChannelMessage
	for _, m := range pending {
		if pendingTS[m.TS] {
			moved = append(moved, m)
		} else {
			kept = append(kept, m)
		}
	}

	for root := range threadRoots {
		path := filepath.Join(s.channelDir(channelID), "threads", sanitize(root)+".json")
		msgs := s.loadMessages(path)
		if len(msgs) == 0 {
			continue
		}
		moved = append(moved, msgs...)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	if len(moved) > 0 {
		if err := s.appendJudgedLocked(channelID, moved); err != nil {
			return err
		}
	}
	if kept == nil {
		kept = []ChannelMessage{}
	}
	return s.writeJSON(pendingPath, kept)
}

// GetDigest returns the channel digest, or an empty digest if none exists.
func (s *Store) GetDigest(channelID string) Digest {
	s.mu.Lock()
	defer s.mu.Unlock()
	var d Digest
	s.readJSON(filepath.Join(s.channelDir(channelID), "digest.json"), &d)
	return d
}

// SaveDigest atomically persists the channel digest.
func (s *Store) SaveDigest(channelID string, d Digest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(filepath.Join(s.channelDir(channelID), "digest.json"), d)
}

// CountPendingTokens estimates the token size of the pending buffer.
func (s *Store) CountPendingTokens(channelID string, counter TokenCounter) int {
	msgs := s.LoadPending(channelID)
	return countMessageTokens(msgs, counter)
}

// CountJudgedPlusPendingTokens estimates the combined size of judged and pending.
func (s *Store) CountJudgedPlusPendingTokens(channelID string, counter TokenCounter) int {
	judged := s.LoadJudged(channelID)
	pending := s.LoadPending(channelID)
	return countMessageTokens(judged, counter) + countMessageTokens(pending, counter)
}

func countMessageTokens(msgs []ChannelMessage, counter TokenCounter) int {
	total := 0
	for _, m := range msgs {
		total += counter.Count(m.Text)
	}
	return total
}

func (s *Store) loadMessages(path string) []ChannelMessage {
	var msgs []ChannelMessage
	s.readJSON(path, &msgs)
	return msgs
}

func (s *Store) appendJudgedLocked(channelID string, msgs []ChannelMessage) error {
	path := filepath.Join(s.channelDir(channelID), "judged.json")
	judged := s.loadMessages(path)
	judged = append(judged, msgs...)
	return s.writeJSON(path, judged)
}

func (s *Store) loadThreadBuffersLocked(channelID string) map[string][]ChannelMessage {
	out := make(map[string][]ChannelMessage)
	dir := filepath.Join(s.channelDir(channelID), "threads")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		root := strings.TrimSuffix(name, ".json")
		msgs := s.loadMessages(filepath.Join(dir, name))
		if len(msgs) > 0 {
			out[root] = msgs
		}
	}
	return out
}

// tsKnown reports whether ts exists in pending, judged or any thread buffer.
// Caller must hold s.mu.
func (s *Store) tsKnown(channelID, ts string) bool {
	for _, m := range s.loadMessages(filepath.Join(s.channelDir(channelID), "pending.json")) {
		if m.TS == ts {
			return true
		}
	}
	for _, m := range s.loadMessages(filepath.Join(s.channelDir(channelID), "judged.json")) {
		if m.TS == ts {
			return true
		}
	}
	for _, msgs := range s.loadThreadBuffersLocked(channelID) {
		for _, m := range msgs {
			if m.TS == ts {
				return true
			}
		}
	}
	return false
}
