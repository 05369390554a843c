package chat

import (
	"context"
	"log/slog"
)

// Reaction emoji names used across the bot.
const (
	ReactionPreempt  = "zap"
	ReactionAccepted = "white_check_mark"

	ReactionPlanning  = "thought_balloon"
	ReactionExecuting = "hammer_and_wrench"
	ReactionSuccess   = "white_check_mark"
	ReactionError     = "x"
)

var trackerStateReactions = []string{
	ReactionPlanning, ReactionExecuting, ReactionSuccess, ReactionError,
}

// ReactionManager centralizes reaction choreography. Fail-open: reaction
// errors are logged, never returned, except where a caller needs them.
type ReactionManager struct {
	adapter   Adapter
	botUserID string
	logger    *slog.Logger
}

// NewReactionManager creates a reaction manager. botUserID identifies this
// bot's own reactions for dedup checks.
func NewReactionManager(adapter Adapter, botUserID string) *ReactionManager {
	return &ReactionManager{
		adapter:   adapter,
		botUserID: botUserID,
		logger:    slog.Default().With("component", "reactions"),
	}
}

// Add adds a reaction, logging failures.
func (r *ReactionManager) Add(ctx context.Context, channelID, ts, name string) {
	if err := r.adapter.AddReaction(ctx, channelID, ts, name); err != nil {
		r.logger.Warn("Failed to add reaction", "channel", channelID, "ts", ts, "name", name, "error", err)
	}
}

// Swap replaces one reaction with another; a failed removal does not block
// the add.
func (r *ReactionManager) Swap(ctx context.Context, channelID, ts, from, to string) {
	if err := r.adapter.RemoveReaction(ctx, channelID, ts, from); err != nil {
		r.logger.Warn("Failed to remove reaction", "channel", channelID, "ts", ts, "name", from, "error", err)
	}
	r.Add(ctx, channelID, ts, to)
}

// AddUnlessPresent adds the reaction unless this bot already placed the same
// emoji on the message. Returns true if the reaction was (or already is)
// there.
func (r *ReactionManager) AddUnlessPresent(ctx context.Context, channelID, ts, name string) bool {
	existing, err := r.adapter.GetReactions(ctx, channelID, ts)
	if err != nil {
		r.logger.Warn("Failed to list reactions", "channel", channelID, "ts", ts, "error", err)
	}
	for _, reaction := range existing {
		if reaction.Name != name {
			continue
		}
		for _, user := range reaction.Users {
			if user == r.botUserID {
				return true
			}
		}
	}
	if err := r.adapter.AddReaction(ctx, channelID, ts, name); err != nil {
		r.logger.Warn("Failed to add reaction", "channel", channelID, "ts", ts, "name", name, "error", err)
		return false
	}
	return true
}

// SetTrackerState clears the other tracker-state emojis and sets the given
// one, so a card thread shows exactly one state at a time.
func (r *ReactionManager) SetTrackerState(ctx context.Context, channelID, ts, state string) {
	for _, other := range trackerStateReactions {
		if other == state {
			continue
		}
		// Best effort: most of these will not be present.
		_ = r.adapter.RemoveReaction(ctx, channelID, ts, other)
	}
	r.Add(ctx, channelID, ts, state)
}
