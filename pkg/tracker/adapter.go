// Package tracker watches a kanban-style tracker board, turns new cards
// into agent sessions and runs multi-card chains over whole lists.
package tracker

import "context"

// List is one board column.
type List struct {
	ID   string
	Name string
}

// Label is a card label.
type Label struct {
	ID   string
	Name string
}

// Card is the tracker-card shape the core depends on.
type Card struct {
	ID          string
	Name        string
	Desc        string
	URL         string
	ListID      string
	Labels      []Label
	DueComplete bool
}

// HasLabel reports whether the card carries a label with the given name.
func (c *Card) HasLabel(name string) (string, bool) {
	for _, l := range c.Labels {
		if l.Name == name {
			return l.ID, true
		}
	}
	return "", false
}

// Adapter is the tracker-provider surface. Implementations must be safe for
// concurrent use.
type Adapter interface {
	GetLists(ctx context.Context) ([]List, error)
	GetCardsInList(ctx context.Context, listID string) ([]Card, error)
	GetCard(ctx context.Context, cardID string) (*Card, error)
	MoveCard(ctx context.Context, cardID, listID string) error
	UpdateCardName(ctx context.Context, cardID, name string) error
	RemoveLabelFromCard(ctx context.Context, cardID, labelID string) error
}
