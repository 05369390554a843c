package tracker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/adlio/trello"
)

// TrelloAdapter implements Adapter over the Trello REST API.
type TrelloAdapter struct {
	client  *trello.Client
	boardID string
	logger  *slog.Logger
}

// NewTrelloAdapter creates a Trello-backed tracker adapter for one board.
func NewTrelloAdapter(appKey, token, boardID string) *TrelloAdapter {
	return &TrelloAdapter{
		client:  trello.NewClient(appKey, token),
		boardID: boardID,
		logger:  slog.Default().With("component", "trello-adapter"),
	}
}

func (t *TrelloAdapter) GetLists(_ context.Context) ([]List, error) {
	board, err := t.client.GetBoard(t.boardID, trello.Defaults())
	if err != nil {
		return nil, fmt.Errorf("fetching board %s: %w", t.boardID, err)
	}
	lists, err := board.GetLists(trello.Defaults())
	if err != nil {
		return nil, fmt.Errorf("fetching lists: %w", err)
	}
	out := make([]List, 0, len(lists))
	for _, l := range lists {
		out = append(out, List{ID: l.ID, Name: l.Name})
	}
	return out, nil
}

func (t *TrelloAdapter) GetCardsInList(_ context.Context, listID string) ([]Card, error) {
	list, err := t.client.GetList(listID, trello.Defaults())
	if err != nil {
		return nil, fmt.Errorf("fetching list %s: %w", listID, err)
	}
	cards, err := list.GetCards(trello.Defaults())
	if err != nil {
		return nil, fmt.Errorf("fetching cards of %s: %w", listID, err)
	}
	out := make([]Card, 0, len(cards))
	for _, c := range cards {
		out = append(out, fromTrelloCard(c))
	}
	return out, nil
}

func (t *TrelloAdapter) GetCard(_ context.Context, cardID string) (*Card, error) {
	c, err := t.client.GetCard(cardID, trello.Defaults())
	if err != nil {
		return nil, fmt.Errorf("fetching card %s: %w", cardID, err)
	}
	card := fromTrelloCard(c)
	return &card, nil
}

// MoveCard uses the low-level PUT because the high-level helper mutates the
// card in place and needs a card fetch first.
func (t *TrelloAdapter) MoveCard(_ context.Context, cardID, listID string) error {
	path := fmt.Sprintf("cards/%s", cardID)
	if err := t.client.Put(path, trello.Arguments{"idList": listID}, nil); err != nil {
		return fmt.Errorf("moving card %s to %s: %w", cardID, listID, err)
	}
	return nil
}

func (t *TrelloAdapter) UpdateCardName(_ context.Context, cardID, name string) error {
	path := fmt.Sprintf("cards/%s", cardID)
	if err := t.client.Put(path, trello.Arguments{"name": name}, nil); err != nil {
		return fmt.Errorf("renaming card %s: %w", cardID, err)
	}
	return nil
}

func (t *TrelloAdapter) RemoveLabelFromCard(_ context.Context, cardID, labelID string) error {
	path := fmt.Sprintf("cards/%s/idLabels/%s", cardID, labelID)
	if err := t.client.Delete(path, trello.Defaults(), nil); err != nil {
		return fmt.Errorf("removing label %s from card %s: %w", labelID, cardID, err)
	}
	return nil
}

func fromTrelloCard(c *trello.Card) Card {
	card := Card{
		ID:          c.ID,
		Name:        c.Name,
		Desc:        c.Desc,
		URL:         c.URL,
		ListID:      c.IDList,
		DueComplete: c.DueComplete,
	}
	for _, l := range c.Labels {
		card.Labels = append(card.Labels, Label{ID: l.ID, Name: l.Name})
	}
	return card
}
