package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// MessageEvent is one inbound chat message, normalized.
type MessageEvent struct {
	ChannelID string
	TS        string
	ThreadTS  string
	UserID    string
	Username  string
	Text      string
	BotID     string
	IsDM      bool
	// MentionsBot is set when the message addresses the bot user directly.
	MentionsBot bool
}

// MessageHandler receives normalized inbound messages.
type MessageHandler func(ctx context.Context, ev MessageEvent)

// SocketGateway receives events over Slack socket mode and hands
// normalized messages to a single handler.
type SocketGateway struct {
	api     *goslack.Client
	client  *socketmode.Client
	botUser string
	handler MessageHandler
	logger  *slog.Logger

	mu        sync.Mutex
	usernames map[string]string
}

// NewSocketGateway creates the gateway. botToken is the xoxb token,
// appToken the xapp token socket mode requires.
func NewSocketGateway(botToken, appToken, botUserID string, handler MessageHandler) *SocketGateway {
	api := goslack.New(botToken, goslack.OptionAppLevelToken(appToken))
	return &SocketGateway{
		api:       api,
		client:    socketmode.New(api),
		botUser:   botUserID,
		handler:   handler,
		logger:    slog.Default().With("component", "chat-gateway"),
		usernames: make(map[string]string),
	}
}

// Run connects and dispatches events until the context ends.
func (g *SocketGateway) Run(ctx context.Context) error {
	go func() {
		if err := g.client.RunContext(ctx); err != nil && ctx.Err() == nil {
			g.logger.Error("Socket mode connection failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-g.client.Events:
			if !ok {
				return nil
			}
			g.dispatch(ctx, evt)
		}
	}
}

func (g *SocketGateway) dispatch(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		g.logger.Info("Connected to chat")
	case socketmode.EventTypeConnectionError:
		g.logger.Warn("Chat connection error", "data", evt.Data)
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			g.client.Ack(*evt.Request)
		}
		if apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		// App-mention events duplicate the message event; the mention is
		// detected on the message itself instead.
		if msg, ok := apiEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			g.handleMessage(ctx, msg)
		}
	}
}

func (g *SocketGateway) handleMessage(ctx context.Context, msg *slackevents.MessageEvent) {
	// Edits, deletions, joins and the bot's own messages are not turns.
	if msg.SubType != "" || msg.User == g.botUser {
		return
	}
	if msg.Text == "" && msg.BotID == "" {
		return
	}
	ev := MessageEvent{
		ChannelID:   msg.Channel,
		TS:          msg.TimeStamp,
		ThreadTS:    msg.ThreadTimeStamp,
		UserID:      msg.User,
		Username:    g.username(ctx, msg.User),
		Text:        msg.Text,
		BotID:       msg.BotID,
		IsDM:        msg.ChannelType == "im",
		MentionsBot: g.botUser != "" && strings.Contains(msg.Text, "<@"+g.botUser+">"),
	}
	g.handler(ctx, ev)
}

// username resolves a display name, cached for the process lifetime.
func (g *SocketGateway) username(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	g.mu.Lock()
	if name, ok := g.usernames[userID]; ok {
		g.mu.Unlock()
		return name
	}
	g.mu.Unlock()

	name := userID
	if user, err := g.api.GetUserInfoContext(ctx, userID); err == nil {
		if user.Profile.DisplayName != "" {
			name = user.Profile.DisplayName
		} else if user.RealName != "" {
			name = user.RealName
		} else if user.Name != "" {
			name = user.Name
		}
	}
	g.mu.Lock()
	g.usernames[userID] = name
	g.mu.Unlock()
	return name
}

// StripMention removes the bot's mention tag from a message text.
func StripMention(text, botUserID string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, "<@"+botUserID+">", ""))
}
