package main

import (
	"context"
	"log/slog"
	"sync"

	"github.com/relaycrew/relay/pkg/channel"
	"github.com/relaycrew/relay/pkg/chat"
	"github.com/relaycrew/relay/pkg/executor"
	"github.com/relaycrew/relay/pkg/session"
	"github.com/relaycrew/relay/pkg/store"
)

// handledTSLimit caps the executor-owned ts set before it is reset.
const handledTSLimit = 4096

// router decides, per inbound message, between the executor (DMs,
// mentions, live session threads) and the channel observer pipeline.
type router struct {
	sessions  *session.Manager
	exec      *executor.Executor
	pipeline  *channel.Pipeline // nil when the observer is disabled
	watched   map[string]bool
	admins    map[string]bool
	botUserID string
	logger    *slog.Logger

	mu      sync.Mutex
	handled map[string]bool
}

func newRouter(sessions *session.Manager, exec *executor.Executor,
	watchedChannels, adminUsers []string, botUserID string) *router {
	watched := make(map[string]bool, len(watchedChannels))
	for _, c := range watchedChannels {
		watched[c] = true
	}
	admins := make(map[string]bool, len(adminUsers))
	for _, u := range adminUsers {
		admins[u] = true
	}
	return &router{
		sessions:  sessions,
		exec:      exec,
		watched:   watched,
		admins:    admins,
		botUserID: botUserID,
		logger:    slog.Default().With("component", "router"),
		handled:   make(map[string]bool),
	}
}

// handle is the gateway's message callback.
func (r *router) handle(ctx context.Context, ev chat.MessageEvent) {
	threadTS := ev.ThreadTS
	if threadTS == "" {
		threadTS = ev.TS
	}

	if ev.IsDM {
		if ev.BotID == "" {
			r.runTurn(ctx, ev, threadTS, session.SourceMention)
		}
		return
	}

	// Executor-owned messages are marked before ingestion so the channel
	// observer never judges them.
	owned := r.hasSession(threadTS) || (ev.MentionsBot && ev.BotID == "")
	if owned {
		r.runTurn(ctx, ev, threadTS, session.SourceMention)
	}
	if r.watched[ev.ChannelID] {
		r.ingest(ctx, ev)
	}
}

func (r *router) runTurn(ctx context.Context, ev chat.MessageEvent, threadTS string, source session.SourceType) {
	if _, err := r.sessions.Get(threadTS); err != nil {
		r.sessions.Create(threadTS, ev.ChannelID, ev.UserID, ev.Username, r.roleFor(ev.UserID), source)
	}
	r.markHandled(ev.TS)

	prompt := chat.StripMention(ev.Text, r.botUserID)
	if prompt == "" {
		return
	}
	go r.exec.Run(ctx, executor.RunInput{
		ThreadTS:      threadTS,
		ChannelID:     ev.ChannelID,
		MsgTS:         ev.TS,
		Prompt:        prompt,
		ProgressiveDM: ev.IsDM,
	})
}

func (r *router) ingest(ctx context.Context, ev chat.MessageEvent) {
	if r.pipeline == nil {
		return
	}
	err := r.pipeline.Ingest(ctx, ev.ChannelID, store.ChannelMessage{
		TS:       ev.TS,
		ThreadTS: ev.ThreadTS,
		UserID:   ev.UserID,
		Username: ev.Username,
		Text:     ev.Text,
		BotID:    ev.BotID,
	})
	if err != nil {
		r.logger.Warn("Channel ingest failed", "channel_id", ev.ChannelID, "error", err)
	}
}

func (r *router) hasSession(threadTS string) bool {
	_, err := r.sessions.Get(threadTS)
	return err == nil
}

func (r *router) roleFor(userID string) session.Role {
	if r.admins[userID] {
		return session.RoleAdmin
	}
	return session.RoleViewer
}

func (r *router) markHandled(ts string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.handled) >= handledTSLimit {
		r.handled = make(map[string]bool)
	}
	r.handled[ts] = true
}

// CreateHybridSession registers a session for a channel intervention
// thread. Satisfies channel.SessionCreator.
func (r *router) CreateHybridSession(channelID, threadTS, userID, username string) {
	if r.hasSession(threadTS) {
		return
	}
	r.sessions.Create(threadTS, channelID, userID, username, session.RoleViewer, session.SourceHybrid)
}

// IsMention reports whether the executor already owns the message.
// Satisfies channel.MentionFilter.
func (r *router) IsMention(ts string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handled[ts]
}
