package store

import "time"

// Priority levels for observations and persistent memory items.
const (
	PriorityHigh   = "🔴"
	PriorityMedium = "🟡"
	PriorityLow    = "🟢"
)

// Observation source values.
const (
	SourceObserver = "observer"
	SourceMigrated = "migrated"
)

// Observation is a single remembered fact about a session.
type Observation struct {
	ID          string    `json:"id"`
	Priority    string    `json:"priority"`
	Content     string    `json:"content"`
	SessionDate string    `json:"session_date"`
	CreatedAt   time.Time `json:"created_at"`
	Source      string    `json:"source"`
}

// MemoryRecord is the per-thread observational memory document.
type MemoryRecord struct {
	ThreadTS              string        `json:"thread_ts"`
	UserID                string        `json:"user_id,omitempty"`
	Username              string        `json:"username,omitempty"`
	AnchorTS              string        `json:"anchor_ts,omitempty"`
	Observations          []Observation `json:"observations"`
	ReflectionCount       int           `json:"reflection_count"`
	TotalSessionsObserved int           `json:"total_sessions_observed"`
}

// Candidate is an observation proposed for promotion to persistent memory.
type Candidate struct {
	TS       string `json:"ts"`
	Priority string `json:"priority"`
	Content  string `json:"content"`
}

// PersistentItem is one entry of the user-scoped persistent memory.
type PersistentItem struct {
	ID         string    `json:"id"`
	Priority   string    `json:"priority"`
	Content    string    `json:"content"`
	PromotedAt time.Time `json:"promoted_at"`
}

// PersistentMeta carries bookkeeping for the persistent memory document.
type PersistentMeta struct {
	TokenCount int       `json:"token_count"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ChannelMessage is one ingested channel (or channel-thread) message.
type ChannelMessage struct {
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Text     string `json:"text"`
	BotID    string `json:"bot_id,omitempty"`
}

// Digest is the rolling channel summary.
type Digest struct {
	Content          string     `json:"content"`
	TokenCount       int        `json:"token_count"`
	LastDigestedAt   time.Time  `json:"last_digested_at"`
	LastCompressedAt *time.Time `json:"last_compressed_at,omitempty"`
}

// Intervention entry types.
const (
	InterventionReact   = "react"
	InterventionMessage = "message"
)

// InterventionEvent is one recorded intervention in a channel.
type InterventionEvent struct {
	At   time.Time `json:"at"`
	Type string    `json:"type"`
}

// TrackedCard binds a tracker card to an active or very recent agent turn.
// Transient: cleared on completion, reclaimed when stale.
type TrackedCard struct {
	CardID     string    `json:"card_id"`
	CardName   string    `json:"card_name"`
	CardURL    string    `json:"card_url,omitempty"`
	ListID     string    `json:"list_id"`
	ListKey    string    `json:"list_key"`
	ThreadTS   string    `json:"thread_ts"`
	ChannelID  string    `json:"channel_id"`
	DetectedAt time.Time `json:"detected_at"`
	SessionID  string    `json:"session_id,omitempty"`
	HasExecute bool      `json:"has_execute,omitempty"`
	DMThreadTS string    `json:"dm_thread_ts,omitempty"`
}

// ThreadCardInfo is the persistent thread ↔ card mapping used for
// reaction-based resume.
type ThreadCardInfo struct {
	ThreadTS  string `json:"thread_ts"`
	ChannelID string `json:"channel_id"`
	CardID    string `json:"card_id"`
	CardName  string `json:"card_name"`
	CardURL   string `json:"card_url,omitempty"`
	ListID    string `json:"list_id"`
}

// List run statuses.
const (
	ListRunPending   = "pending"
	ListRunRunning   = "running"
	ListRunPaused    = "paused"
	ListRunVerifying = "verifying"
	ListRunCompleted = "completed"
	ListRunFailed    = "failed"
)

// Card outcome values recorded in ListRunSession.ProcessedCards.
const (
	CardCompleted        = "completed"
	CardFailed           = "failed"
	CardSkipped          = "skipped"
	CardSkippedDuplicate = "skipped_duplicate"
)

// ListRunSession is the durable state of one multi-card chain.
type ListRunSession struct {
	SessionID      string            `json:"session_id"`
	ListID         string            `json:"list_id"`
	ListName       string            `json:"list_name"`
	CardIDs        []string          `json:"card_ids"`
	CurrentIndex   int               `json:"current_index"`
	Status         string            `json:"status"`
	ProcessedCards map[string]string `json:"processed_cards"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Active reports whether the session still owns its list.
func (s *ListRunSession) Active() bool {
	switch s.Status {
	case ListRunRunning, ListRunPaused, ListRunVerifying:
		return true
	}
	return false
}
