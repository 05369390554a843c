package store

// LoadTrackedCards returns the tracked-card table keyed by card id.
func (s *Store) LoadTrackedCards() map[string]TrackedCard {
	s.mu.Lock()
	defer s.mu.Unlock()
	cards := make(map[string]TrackedCard)
	s.readJSON(s.trackerPath("tracked_cards.json"), &cards)
	return cards
}

// SaveTrackedCards replaces the tracked-card table.
func (s *Store) SaveTrackedCards(cards map[string]TrackedCard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.trackerPath("tracked_cards.json"), cards)
}

// LoadThreadCards returns the persistent thread ↔ card mapping keyed by thread ts.
func (s *Store) LoadThreadCards() map[string]ThreadCardInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make(map[string]ThreadCardInfo)
	s.readJSON(s.trackerPath("thread_cards.json"), &infos)
	return infos
}

// SaveThreadCards replaces the thread ↔ card mapping.
func (s *Store) SaveThreadCards(infos map[string]ThreadCardInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.trackerPath("thread_cards.json"), infos)
}

// LoadListRunSessions returns all list-run sessions keyed by session id.
func (s *Store) LoadListRunSessions() map[string]*ListRunSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	sessions := make(map[string]*ListRunSession)
	s.readJSON(s.trackerPath("list_run_sessions.json"), &sessions)
	return sessions
}

// SaveListRunSessions replaces the list-run session table.
func (s *Store) SaveListRunSessions(sessions map[string]*ListRunSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(s.trackerPath("list_run_sessions.json"), sessions)
}
