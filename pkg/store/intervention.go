package store

import (
	"path/filepath"
	"time"
)

// interventionWindow is how far back intervention history is retained.
const interventionWindow = 2 * time.Hour

// LoadInterventions returns the channel's intervention history, oldest first.
// Entries older than two hours may still be present until the next write.
func (s *Store) LoadInterventions(channelID string) []InterventionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var events []InterventionEvent
	s.readJSON(s.interventionPath(channelID), &events)
	return events
}

// RecordIntervention appends an intervention event, pruning entries older
// than two hours at write time.
func (s *Store) RecordIntervention(channelID, eventType string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []InterventionEvent
	s.readJSON(s.interventionPath(channelID), &events)

	cutoff := at.Add(-interventionWindow)
	pruned := make([]InterventionEvent, 0, len(events)+1)
	for _, e := range events {
		if e.At.After(cutoff) {
			pruned = append(pruned, e)
		}
	}
	pruned = append(pruned, InterventionEvent{At: at, Type: eventType})
	return s.writeJSON(s.interventionPath(channelID), pruned)
}

func (s *Store) interventionPath(channelID string) string {
	return filepath.Join(s.root, "intervention", sanitize(channelID)+".json")
}
