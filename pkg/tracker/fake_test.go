package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/relaycrew/relay/pkg/agentrunner"
	"github.com/relaycrew/relay/pkg/chat"
	"github.com/relaycrew/relay/pkg/executor"
)

// fakeTracker is an in-memory board.
type fakeTracker struct {
	mu             sync.Mutex
	lists          []List
	cards          map[string][]Card // list id → cards
	byID           map[string]*Card
	renames        map[string][]string
	moves          []string
	removedLabels  []string
	removeLabelErr error
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		cards:   make(map[string][]Card),
		byID:    make(map[string]*Card),
		renames: make(map[string][]string),
	}
}

func (f *fakeTracker) addList(id, name string) {
	f.lists = append(f.lists, List{ID: id, Name: name})
}

func (f *fakeTracker) addCard(listID string, card Card) {
	card.ListID = listID
	f.cards[listID] = append(f.cards[listID], card)
	c := card
	f.byID[card.ID] = &c
}

func (f *fakeTracker) GetLists(context.Context) ([]List, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]List(nil), f.lists...), nil
}

func (f *fakeTracker) GetCardsInList(_ context.Context, listID string) ([]Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Card(nil), f.cards[listID]...), nil
}

func (f *fakeTracker) GetCard(_ context.Context, cardID string) (*Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[cardID]
	if !ok {
		return nil, fmt.Errorf("no such card %s", cardID)
	}
	out := *c
	return &out, nil
}

func (f *fakeTracker) MoveCard(_ context.Context, cardID, listID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, cardID+"→"+listID)
	if c, ok := f.byID[cardID]; ok {
		c.ListID = listID
	}
	return nil
}

func (f *fakeTracker) UpdateCardName(_ context.Context, cardID, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renames[cardID] = append(f.renames[cardID], name)
	if c, ok := f.byID[cardID]; ok {
		c.Name = name
	}
	return nil
}

func (f *fakeTracker) RemoveLabelFromCard(_ context.Context, cardID, labelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeLabelErr != nil {
		return f.removeLabelErr
	}
	f.removedLabels = append(f.removedLabels, cardID+"|"+labelID)
	if c, ok := f.byID[cardID]; ok {
		out := c.Labels[:0]
		for _, l := range c.Labels {
			if l.ID != labelID {
				out = append(out, l)
			}
		}
		c.Labels = out
	}
	return nil
}

func (f *fakeTracker) currentName(cardID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[cardID].Name
}

// fakeExec scripts agent turns without subprocesses.
type fakeExec struct {
	mu         sync.Mutex
	runs       []executor.RunInput
	compacts   []string
	validation string // output of verification passes
	execOutput string // output of work passes
	failExec   bool
}

func (f *fakeExec) Run(_ context.Context, in executor.RunInput) {
	f.mu.Lock()
	f.runs = append(f.runs, in)
	validation := f.validation
	execOutput := f.execOutput
	failExec := f.failExec
	f.mu.Unlock()

	if strings.Contains(in.Prompt, "Verify whether") {
		if in.OnSuccess != nil {
			in.OnSuccess(&agentrunner.Result{Success: true, Output: validation})
		}
		return
	}
	if failExec {
		if in.OnError != nil {
			in.OnError(&agentrunner.Result{Error: "exit status 1"})
		}
		return
	}
	if execOutput == "" {
		execOutput = "done, see thread"
	}
	if in.OnSuccess != nil {
		in.OnSuccess(&agentrunner.Result{Success: true, Output: execOutput})
	}
}

func (f *fakeExec) PreemptiveCompact(_ context.Context, threadTS string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compacts = append(f.compacts, threadTS)
	return nil
}

func (f *fakeExec) runPrompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.runs))
	for i, r := range f.runs {
		out[i] = r.Prompt
	}
	return out
}

// fakeChat records posted messages.
type fakeChat struct {
	mu     sync.Mutex
	posted []struct{ Channel, ThreadTS, Text, TS string }
	nextTS int
}

func (f *fakeChat) PostMessage(_ context.Context, channelID, threadTS, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTS++
	ts := fmt.Sprintf("anchor.%d", f.nextTS)
	f.posted = append(f.posted, struct{ Channel, ThreadTS, Text, TS string }{channelID, threadTS, text, ts})
	return ts, nil
}

func (f *fakeChat) UpdateMessage(context.Context, string, string, string) error { return nil }
func (f *fakeChat) AddReaction(context.Context, string, string, string) error  { return nil }
func (f *fakeChat) RemoveReaction(context.Context, string, string, string) error {
	return nil
}
func (f *fakeChat) GetReactions(context.Context, string, string) ([]chat.Reaction, error) {
	return nil, nil
}
func (f *fakeChat) OpenDM(_ context.Context, userID string) (string, error) { return "D" + userID, nil }

func (f *fakeChat) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.posted))
	for i, p := range f.posted {
		out[i] = p.Text
	}
	return out
}
