package session

import "time"

// Role gates which tools an agent turn may use.
type Role string

// Roles.
const (
	RoleAdmin  Role = "admin"
	RoleViewer Role = "viewer"
)

// SourceType annotates how a session was created.
type SourceType string

// Session origins.
const (
	SourceMention SourceType = "mention"
	SourceHybrid  SourceType = "hybrid"
	SourceTrello  SourceType = "trello"
)

// Session binds a chat thread to an agent session.
type Session struct {
	ThreadTS     string     `json:"thread_ts"`
	ChannelID    string     `json:"channel_id"`
	SessionID    string     `json:"session_id,omitempty"`
	UserID       string     `json:"user_id,omitempty"`
	Username     string     `json:"username,omitempty"`
	Role         Role       `json:"role"`
	SourceType   SourceType `json:"source_type"`
	MessageCount int        `json:"message_count"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt time.Time  `json:"last_active_at"`
}

// Clone returns a copy safe to hand outside the manager.
func (s *Session) Clone() *Session {
	c := *s
	return &c
}
