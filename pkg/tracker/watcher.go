package tracker

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/relaycrew/relay/pkg/chat"
	"github.com/relaycrew/relay/pkg/executor"
	"github.com/relaycrew/relay/pkg/session"
	"github.com/relaycrew/relay/pkg/store"
)

// staleThreshold is the age past which a tracked card is reclaimed.
const staleThreshold = 2 * time.Hour

// defaultRunListLabel is the label that triggers a list run.
const defaultRunListLabel = "🏃 Run List"

// WatcherConfig holds the poll-loop knobs.
type WatcherConfig struct {
	PollInterval time.Duration
	// WatchLists maps a list key (e.g. "to_go") to its list id. Cards
	// appearing there become agent sessions.
	WatchLists       map[string]string
	InProgressListID string
	ReviewListID     string
	DoneListID       string
	// ExtraOperational are list ids never eligible for run-list triggering
	// (backlog, blocked, draft).
	ExtraOperational []string
	NotifyChannel    string
	// DMUserID, when set, opens card threads in a DM instead of the notify
	// channel.
	DMUserID         string
	RunListLabelName string
}

// Watcher polls the tracker board and reacts to card movement.
type Watcher struct {
	store    *store.Store
	tracker  Adapter
	exec     ExecutorService
	sessions *session.Manager
	adapter  chat.Adapter
	runner   *ListRunner
	cfg      WatcherConfig
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// listRunMu serializes run-list triggering across ticks.
	listRunMu sync.Mutex
}

// NewWatcher creates the tracker watcher.
func NewWatcher(st *store.Store, tracker Adapter, exec ExecutorService,
	sessions *session.Manager, adapter chat.Adapter, runner *ListRunner, cfg WatcherConfig) *Watcher {
	if cfg.RunListLabelName == "" {
		cfg.RunListLabelName = defaultRunListLabel
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Watcher{
		store:    st,
		tracker:  tracker,
		exec:     exec,
		sessions: sessions,
		adapter:  adapter,
		runner:   runner,
		cfg:      cfg,
		logger:   slog.Default().With("component", "tracker-watcher"),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the poll loop.
func (w *Watcher) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.Tick(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for in-flight card workers.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Tick runs one poll pass. Exported so wiring and tests can drive it.
func (w *Watcher) Tick(ctx context.Context) {
	w.reclaimStale()
	w.detectNewCards(ctx)
	w.completeReviewed(ctx)
	w.triggerRunLists(ctx)
}

// reclaimStale drops tracked cards older than the stale threshold so they
// become eligible for fresh detection.
func (w *Watcher) reclaimStale() {
	tracked := w.store.LoadTrackedCards()
	changed := false
	cutoff := time.Now().Add(-staleThreshold)
	for id, tc := range tracked {
		if tc.DetectedAt.Before(cutoff) {
			w.logger.Warn("Reclaiming stale tracked card", "card_id", id, "card", tc.CardName)
			delete(tracked, id)
			changed = true
		}
	}
	if changed {
		if err := w.store.SaveTrackedCards(tracked); err != nil {
			w.logger.Error("Failed to save tracked cards", "error", err)
		}
	}
}

func (w *Watcher) detectNewCards(ctx context.Context) {
	for listKey, listID := range w.cfg.WatchLists {
		cards, err := w.tracker.GetCardsInList(ctx, listID)
		if err != nil {
			w.logger.Warn("Failed to list cards", "list_key", listKey, "error", err)
			continue
		}
		tracked := w.store.LoadTrackedCards()
		for i := range cards {
			card := cards[i]
			if _, ok := tracked[card.ID]; ok {
				continue
			}
			w.handleNewCard(ctx, listKey, card)
		}
	}
}

// handleNewCard moves the card to in-progress, opens a chat thread and
// spawns an agent worker for it.
func (w *Watcher) handleNewCard(ctx context.Context, listKey string, card Card) {
	w.logger.Info("New tracker card detected", "list_key", listKey, "card", card.Name)

	if w.cfg.InProgressListID != "" {
		if err := w.tracker.MoveCard(ctx, card.ID, w.cfg.InProgressListID); err != nil {
			w.logger.Warn("Failed to move card to in-progress", "card_id", card.ID, "error", err)
		}
	}

	channelID := w.cfg.NotifyChannel
	dm := false
	if w.cfg.DMUserID != "" {
		if id, err := w.adapter.OpenDM(ctx, w.cfg.DMUserID); err == nil {
			channelID = id
			dm = true
		} else {
			w.logger.Warn("Failed to open DM, using notify channel", "error", err)
		}
	}
	anchor, err := w.adapter.PostMessage(ctx, channelID, "", chat.BuildTrackerHeader(card.Name, card.URL, ""))
	if err != nil {
		w.logger.Error("Failed to open card thread", "card_id", card.ID, "error", err)
		return
	}

	originalName := card.Name
	if err := w.tracker.UpdateCardName(ctx, card.ID, spinnerPrefix+originalName); err != nil {
		w.logger.Warn("Failed to prefix card name", "card_id", card.ID, "error", err)
	}

	tracked := w.store.LoadTrackedCards()
	tracked[card.ID] = store.TrackedCard{
		CardID:     card.ID,
		CardName:   originalName,
		CardURL:    card.URL,
		ListID:     card.ListID,
		ListKey:    listKey,
		ThreadTS:   anchor,
		ChannelID:  channelID,
		DetectedAt: time.Now(),
		DMThreadTS: anchor,
	}
	if err := w.store.SaveTrackedCards(tracked); err != nil {
		w.logger.Error("Failed to track card", "card_id", card.ID, "error", err)
	}
	threadCards := w.store.LoadThreadCards()
	threadCards[anchor] = store.ThreadCardInfo{
		ThreadTS:  anchor,
		ChannelID: channelID,
		CardID:    card.ID,
		CardName:  originalName,
		CardURL:   card.URL,
		ListID:    card.ListID,
	}
	if err := w.store.SaveThreadCards(threadCards); err != nil {
		w.logger.Warn("Failed to save thread card info", "error", err)
	}

	w.sessions.Create(anchor, channelID, w.cfg.DMUserID, "", session.RoleAdmin, session.SourceTrello)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if err := w.tracker.UpdateCardName(context.WithoutCancel(ctx), card.ID, originalName); err != nil {
				w.logger.Warn("Failed to restore card name", "card_id", card.ID, "error", err)
			}
			w.untrack(card.ID)
		}()
		w.exec.Run(ctx, executor.RunInput{
			ThreadTS:      anchor,
			ChannelID:     channelID,
			Prompt:        buildCardPrompt(&card),
			ProgressiveDM: dm,
		})
	}()
}

// completeReviewed moves review cards whose due flag is checked to done.
func (w *Watcher) completeReviewed(ctx context.Context) {
	if w.cfg.ReviewListID == "" || w.cfg.DoneListID == "" {
		return
	}
	cards, err := w.tracker.GetCardsInList(ctx, w.cfg.ReviewListID)
	if err != nil {
		w.logger.Warn("Failed to list review cards", "error", err)
		return
	}
	for _, card := range cards {
		if !card.DueComplete {
			continue
		}
		if err := w.tracker.MoveCard(ctx, card.ID, w.cfg.DoneListID); err != nil {
			w.logger.Warn("Failed to move reviewed card", "card_id", card.ID, "error", err)
			continue
		}
		if w.cfg.NotifyChannel != "" {
			if _, err := w.adapter.PostMessage(ctx, w.cfg.NotifyChannel, "",
				"✅ Done: "+strings.TrimPrefix(card.Name, spinnerPrefix)); err != nil {
				w.logger.Warn("Failed to post done notice", "error", err)
			}
		}
	}
}

// triggerRunLists starts a list run when a non-operational list's first
// card carries the run label. Label removal is the atomicity token: if it
// fails, the trigger retries next tick.
func (w *Watcher) triggerRunLists(ctx context.Context) {
	lists, err := w.tracker.GetLists(ctx)
	if err != nil {
		w.logger.Warn("Failed to list board lists", "error", err)
		return
	}
	operational := w.operationalLists()

	for _, list := range lists {
		if operational[list.ID] {
			continue
		}
		cards, err := w.tracker.GetCardsInList(ctx, list.ID)
		if err != nil || len(cards) == 0 {
			continue
		}
		labelID, ok := cards[0].HasLabel(w.cfg.RunListLabelName)
		if !ok {
			continue
		}

		w.listRunMu.Lock()
		if w.activeRunForList(list.ID) {
			w.listRunMu.Unlock()
			continue
		}
		if err := w.tracker.RemoveLabelFromCard(ctx, cards[0].ID, labelID); err != nil {
			w.logger.Warn("Run-list label removal failed, retrying next tick",
				"list", list.Name, "error", err)
			w.listRunMu.Unlock()
			continue
		}
		if _, err := w.runner.Start(ctx, list.ID, list.Name, cards, ""); err != nil {
			w.logger.Error("Failed to start list run", "list", list.Name, "error", err)
		}
		w.listRunMu.Unlock()
	}
}

func (w *Watcher) operationalLists() map[string]bool {
	op := make(map[string]bool)
	for _, id := range w.cfg.WatchLists {
		op[id] = true
	}
	for _, id := range []string{w.cfg.InProgressListID, w.cfg.ReviewListID, w.cfg.DoneListID} {
		if id != "" {
			op[id] = true
		}
	}
	for _, id := range w.cfg.ExtraOperational {
		op[id] = true
	}
	return op
}

func (w *Watcher) activeRunForList(listID string) bool {
	for _, s := range w.store.LoadListRunSessions() {
		if s.ListID == listID && s.Active() {
			return true
		}
	}
	return false
}

func (w *Watcher) untrack(cardID string) {
	tracked := w.store.LoadTrackedCards()
	delete(tracked, cardID)
	if err := w.store.SaveTrackedCards(tracked); err != nil {
		w.logger.Warn("Failed to untrack card", "card_id", cardID, "error", err)
	}
}
