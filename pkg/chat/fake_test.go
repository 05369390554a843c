package chat

import (
	"context"
	"fmt"
	"sync"
)

// fakeAdapter records calls for assertions.
type fakeAdapter struct {
	mu        sync.Mutex
	posted    []postedMessage
	updated   map[string]string
	reactions map[string][]Reaction // keyed channel|ts
	postErr   error
	nextTS    int
}

type postedMessage struct {
	Channel  string
	ThreadTS string
	Text     string
	TS       string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		updated:   make(map[string]string),
		reactions: make(map[string][]Reaction),
	}
}

func key(channelID, ts string) string { return channelID + "|" + ts }

func (f *fakeAdapter) PostMessage(_ context.Context, channelID, threadTS, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", f.postErr
	}
	f.nextTS++
	ts := fmt.Sprintf("100.%04d", f.nextTS)
	f.posted = append(f.posted, postedMessage{Channel: channelID, ThreadTS: threadTS, Text: text, TS: ts})
	return ts, nil
}

func (f *fakeAdapter) UpdateMessage(_ context.Context, channelID, ts, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[key(channelID, ts)] = text
	return nil
}

func (f *fakeAdapter) AddReaction(_ context.Context, channelID, ts, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(channelID, ts)
	for i, r := range f.reactions[k] {
		if r.Name == name {
			f.reactions[k][i].Users = append(r.Users, "BOT")
			return nil
		}
	}
	f.reactions[k] = append(f.reactions[k], Reaction{Name: name, Users: []string{"BOT"}})
	return nil
}

func (f *fakeAdapter) RemoveReaction(_ context.Context, channelID, ts, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := key(channelID, ts)
	out := f.reactions[k][:0]
	for _, r := range f.reactions[k] {
		if r.Name != name {
			out = append(out, r)
		}
	}
	f.reactions[k] = out
	return nil
}

func (f *fakeAdapter) GetReactions(_ context.Context, channelID, ts string) ([]Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Reaction(nil), f.reactions[key(channelID, ts)]...), nil
}

func (f *fakeAdapter) OpenDM(_ context.Context, userID string) (string, error) {
	return "D" + userID, nil
}

func (f *fakeAdapter) postedTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.posted))
	for i, p := range f.posted {
		out[i] = p.Text
	}
	return out
}
