package chat

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// SlackAdapter implements Adapter over the slack-go SDK.
type SlackAdapter struct {
	api    *goslack.Client
	logger *slog.Logger
}

// NewSlackAdapter creates a Slack-backed adapter.
func NewSlackAdapter(token string) *SlackAdapter {
	return &SlackAdapter{
		api:    goslack.New(token),
		logger: slog.Default().With("component", "slack-adapter"),
	}
}

// NewSlackAdapterWithAPIURL targets a custom API URL. Useful for testing
// with a mock server.
func NewSlackAdapterWithAPIURL(token, apiURL string) *SlackAdapter {
	return &SlackAdapter{
		api:    goslack.New(token, goslack.OptionAPIURL(apiURL)),
		logger: slog.Default().With("component", "slack-adapter"),
	}
}

func (s *SlackAdapter) PostMessage(ctx context.Context, channelID, threadTS, text string) (string, error) {
	opts := []goslack.MsgOption{
		goslack.MsgOptionText(text, false),
	}
	if threadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(threadTS))
	}
	_, ts, err := s.api.PostMessageContext(ctx, channelID, opts...)
	if err != nil {
		return "", fmt.Errorf("chat.postMessage failed: %w", err)
	}
	return ts, nil
}

func (s *SlackAdapter) UpdateMessage(ctx context.Context, channelID, ts, text string) error {
	_, _, _, err := s.api.UpdateMessageContext(ctx, channelID, ts, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("chat.update failed: %w", err)
	}
	return nil
}

func (s *SlackAdapter) AddReaction(ctx context.Context, channelID, ts, name string) error {
	if err := s.api.AddReactionContext(ctx, name, goslack.NewRefToMessage(channelID, ts)); err != nil {
		return fmt.Errorf("reactions.add failed: %w", err)
	}
	return nil
}

func (s *SlackAdapter) RemoveReaction(ctx context.Context, channelID, ts, name string) error {
	if err := s.api.RemoveReactionContext(ctx, name, goslack.NewRefToMessage(channelID, ts)); err != nil {
		return fmt.Errorf("reactions.remove failed: %w", err)
	}
	return nil
}

func (s *SlackAdapter) GetReactions(ctx context.Context, channelID, ts string) ([]Reaction, error) {
	items, err := s.api.GetReactionsContext(ctx, goslack.NewRefToMessage(channelID, ts), goslack.GetReactionsParameters{})
	if err != nil {
		return nil, fmt.Errorf("reactions.get failed: %w", err)
	}
	out := make([]Reaction, 0, len(items))
	for _, item := range items {
		out = append(out, Reaction{Name: item.Name, Users: item.Users})
	}
	return out, nil
}

func (s *SlackAdapter) OpenDM(ctx context.Context, userID string) (string, error) {
	ch, _, _, err := s.api.OpenConversationContext(ctx, &goslack.OpenConversationParameters{
		Users: []string{userID},
	})
	if err != nil {
		return "", fmt.Errorf("conversations.open failed: %w", err)
	}
	return ch.ID, nil
}
