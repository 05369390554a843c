package chat

import (
	"context"
	"log/slog"
)

// DebugSink posts diagnostic blocks to a configured debug channel.
// Nil-safe: all methods are no-ops when the sink is nil.
type DebugSink struct {
	adapter Adapter
	channel string
	logger  *slog.Logger
}

// NewDebugSink creates a sink, or nil when no debug channel is configured.
func NewDebugSink(adapter Adapter, channelID string) *DebugSink {
	if adapter == nil || channelID == "" {
		return nil
	}
	return &DebugSink{
		adapter: adapter,
		channel: channelID,
		logger:  slog.Default().With("component", "debug-sink"),
	}
}

// Post sends a debug block. Fail-open: errors are logged, never returned.
func (d *DebugSink) Post(ctx context.Context, text string) {
	if d == nil {
		return
	}
	if _, err := d.adapter.PostMessage(ctx, d.channel, "", text); err != nil {
		d.logger.Warn("Failed to post debug block", "error", err)
	}
}
