// Package chat abstracts the chat provider behind a small adapter surface
// and provides formatting, chunking and reaction helpers on top of it.
package chat

import "context"

// Reaction is one emoji on a message, with the users who added it.
type Reaction struct {
	Name  string
	Users []string
}

// Adapter is the provider surface the core depends on. Implementations must
// be safe for concurrent use.
type Adapter interface {
	// PostMessage posts text, threaded when threadTS is non-empty, and
	// returns the new message's ts.
	PostMessage(ctx context.Context, channelID, threadTS, text string) (string, error)
	// UpdateMessage replaces the text of an existing message in place.
	UpdateMessage(ctx context.Context, channelID, ts, text string) error
	AddReaction(ctx context.Context, channelID, ts, name string) error
	RemoveReaction(ctx context.Context, channelID, ts, name string) error
	GetReactions(ctx context.Context, channelID, ts string) ([]Reaction, error)
	// OpenDM opens (or resumes) a direct-message conversation with the user
	// and returns its channel id.
	OpenDM(ctx context.Context, userID string) (string, error)
}
