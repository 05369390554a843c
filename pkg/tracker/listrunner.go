package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaycrew/relay/pkg/agentrunner"
	"github.com/relaycrew/relay/pkg/chat"
	"github.com/relaycrew/relay/pkg/executor"
	"github.com/relaycrew/relay/pkg/session"
	"github.com/relaycrew/relay/pkg/store"
)

// spinnerPrefix marks a card as being worked on by the bot.
const spinnerPrefix = "🌀 "

// listRunKey is the TrackedCard list key for cards executed by the list
// runner, so the watcher's new-card detector leaves them alone.
const listRunKey = "list_run"

// ExecutorService is the turn surface the tracker drives. Satisfied by
// *executor.Executor.
type ExecutorService interface {
	Run(ctx context.Context, in executor.RunInput)
	PreemptiveCompact(ctx context.Context, threadTS string) error
}

// ListRunner chains agent turns over every card of a tracker list.
type ListRunner struct {
	store         *store.Store
	tracker       Adapter
	exec          ExecutorService
	sessions      *session.Manager
	adapter       chat.Adapter
	notifyChannel string
	logger        *slog.Logger

	mu      sync.Mutex
	threads map[string]runThread // session id → chat anchor
	wg      sync.WaitGroup
}

type runThread struct {
	ChannelID string
	ThreadTS  string
}

// NewListRunner creates the list runner.
func NewListRunner(st *store.Store, tracker Adapter, exec ExecutorService,
	sessions *session.Manager, adapter chat.Adapter, notifyChannel string) *ListRunner {
	return &ListRunner{
		store:         st,
		tracker:       tracker,
		exec:          exec,
		sessions:      sessions,
		adapter:       adapter,
		notifyChannel: notifyChannel,
		logger:        slog.Default().With("component", "list-runner"),
		threads:       make(map[string]runThread),
	}
}

// CreateSession registers a pending list run. At most one active run per
// list is allowed.
func (r *ListRunner) CreateSession(listID, listName string, cardIDs []string) (*store.ListRunSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.store.LoadListRunSessions()
	for _, s := range all {
		if s.ListID == listID && s.Active() {
			return nil, fmt.Errorf("list %s already has an active run (%s)", listID, s.SessionID)
		}
	}
	s := &store.ListRunSession{
		SessionID:      uuid.New().String(),
		ListID:         listID,
		ListName:       listName,
		CardIDs:        append([]string(nil), cardIDs...),
		Status:         store.ListRunPending,
		ProcessedCards: make(map[string]string),
		CreatedAt:      time.Now(),
	}
	all[s.SessionID] = s
	if err := r.store.SaveListRunSessions(all); err != nil {
		return nil, err
	}
	return s, nil
}

// StartListRunByName resolves the list by name and starts a run over its
// current cards. Implements the executor's list-run marker.
func (r *ListRunner) StartListRunByName(ctx context.Context, listName, channelID, _ string) error {
	lists, err := r.tracker.GetLists(ctx)
	if err != nil {
		return err
	}
	var target *List
	for i := range lists {
		if strings.EqualFold(lists[i].Name, listName) {
			target = &lists[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("no tracker list named %q", listName)
	}
	cards, err := r.tracker.GetCardsInList(ctx, target.ID)
	if err != nil {
		return err
	}
	if len(cards) == 0 {
		return fmt.Errorf("list %q has no cards", listName)
	}
	_, err = r.Start(ctx, target.ID, target.Name, cards, channelID)
	return err
}

// Start creates and launches a run over the given cards.
func (r *ListRunner) Start(ctx context.Context, listID, listName string, cards []Card, channelID string) (*store.ListRunSession, error) {
	cardIDs := make([]string, 0, len(cards))
	for _, c := range cards {
		cardIDs = append(cardIDs, c.ID)
	}
	s, err := r.CreateSession(listID, listName, cardIDs)
	if err != nil {
		return nil, err
	}

	if channelID == "" {
		channelID = r.notifyChannel
	}
	anchor, err := r.adapter.PostMessage(ctx, channelID, "",
		fmt.Sprintf("🏃 List run started: *%s* (%d cards)", listName, len(cards)))
	if err != nil {
		return nil, fmt.Errorf("posting list-run anchor: %w", err)
	}
	r.sessions.Create(anchor, channelID, "", "", session.RoleAdmin, session.SourceTrello)

	r.mu.Lock()
	r.threads[s.SessionID] = runThread{ChannelID: channelID, ThreadTS: anchor}
	r.mu.Unlock()

	s.Status = store.ListRunRunning
	if err := r.saveSession(s); err != nil {
		return nil, err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runChain(context.WithoutCancel(ctx), s.SessionID)
	}()
	return s, nil
}

// runChain processes cards until the run finishes, fails or pauses.
func (r *ListRunner) runChain(ctx context.Context, sessionID string) {
	for {
		advanced, err := r.RunNextCard(ctx, sessionID)
		if err != nil {
			r.logger.Error("List run aborted", "session_id", sessionID, "error", err)
			return
		}
		if !advanced {
			return
		}
	}
}

// RunNextCard executes the next unprocessed card of the run. Returns true
// when the chain should continue.
func (r *ListRunner) RunNextCard(ctx context.Context, sessionID string) (bool, error) {
	s := r.getSession(sessionID)
	if s == nil {
		return false, fmt.Errorf("unknown list run %s", sessionID)
	}
	if s.Status != store.ListRunRunning {
		return false, nil
	}

	cardID, idx := r.nextCardID(s)
	if cardID == "" {
		return false, r.completeRun(ctx, s)
	}

	card, err := r.tracker.GetCard(ctx, cardID)
	if err != nil {
		r.logger.Warn("Card fetch failed, skipping", "card_id", cardID, "error", err)
		s.ProcessedCards[cardID] = store.CardSkipped
		s.CurrentIndex = idx + 1
		return true, r.saveSession(s)
	}

	// A card another flow is already executing is not run twice.
	if _, tracked := r.store.LoadTrackedCards()[cardID]; tracked {
		s.ProcessedCards[cardID] = store.CardSkippedDuplicate
		s.CurrentIndex = idx + 1
		return true, r.saveSession(s)
	}

	thread := r.thread(sessionID)
	outcome := r.executeCard(ctx, s, card, idx, thread)

	switch outcome {
	case store.CardCompleted:
		s.ProcessedCards[card.ID] = store.CardCompleted
		s.CurrentIndex = idx + 1
		if err := r.saveSession(s); err != nil {
			return false, err
		}
		// Keep the shared context small between cards; failures here,
		// including timeout, must not break the chain.
		if err := r.exec.PreemptiveCompact(ctx, thread.ThreadTS); err != nil {
			r.logger.Warn("Preemptive compact failed", "session_id", sessionID, "error", err)
		}
		return true, nil
	default:
		// A failed card parks the run until an explicit resume.
		s.ProcessedCards[card.ID] = store.CardFailed
		s.Status = store.ListRunPaused
		s.ErrorMessage = fmt.Sprintf("card %q failed", card.Name)
		if err := r.saveSession(s); err != nil {
			return false, err
		}
		if _, err := r.adapter.PostMessage(ctx, thread.ChannelID, thread.ThreadTS,
			fmt.Sprintf("⏸️ List run paused: card *%s* failed. Resume when fixed.", card.Name)); err != nil {
			r.logger.Warn("Failed to post pause notice", "error", err)
		}
		return false, nil
	}
}

// executeCard runs the work pass and the verification pass for one card.
func (r *ListRunner) executeCard(ctx context.Context, s *store.ListRunSession, card *Card, idx int, thread runThread) string {
	r.trackCard(card, thread)
	originalName := card.Name
	if err := r.tracker.UpdateCardName(ctx, card.ID, spinnerPrefix+originalName); err != nil {
		r.logger.Warn("Failed to prefix card name", "card_id", card.ID, "error", err)
	}
	defer func() {
		if err := r.tracker.UpdateCardName(ctx, card.ID, originalName); err != nil {
			r.logger.Warn("Failed to restore card name", "card_id", card.ID, "error", err)
		}
		r.untrackCard(card.ID)
	}()

	s.Status = store.ListRunRunning
	prompt := buildListRunCardPrompt(card, idx, len(s.CardIDs), s.ListName)

	execOutput, ok := r.runTurn(ctx, thread, prompt)
	if !ok {
		return store.CardFailed
	}

	// Second pass: the verdict counts only when the verifier session says
	// so; a stray marker in the execution output is not trusted.
	s.Status = store.ListRunVerifying
	if err := r.saveSession(s); err != nil {
		r.logger.Warn("Failed to persist verifying state", "error", err)
	}
	validationOutput, ok := r.runTurn(ctx, thread, buildValidationPrompt(card, execOutput))
	verdict := ValidationUnknown
	if ok {
		verdict = parseValidationResult(validationOutput)
	}
	s.Status = store.ListRunRunning

	if verdict == ValidationFail {
		return store.CardFailed
	}
	return store.CardCompleted
}

// runTurn synchronously executes one agent turn on the run's thread.
func (r *ListRunner) runTurn(ctx context.Context, thread runThread, prompt string) (string, bool) {
	var output string
	var success bool
	r.exec.Run(ctx, executor.RunInput{
		ThreadTS:  thread.ThreadTS,
		ChannelID: thread.ChannelID,
		Prompt:    prompt,
		OnSuccess: func(res *agentrunner.Result) {
			success = true
			output = res.Output
		},
		OnError: func(res *agentrunner.Result) {
			output = res.Error
		},
	})
	return output, success
}

func (r *ListRunner) completeRun(ctx context.Context, s *store.ListRunSession) error {
	s.Status = store.ListRunCompleted
	if err := r.saveSession(s); err != nil {
		return err
	}
	thread := r.thread(s.SessionID)
	if thread.ChannelID != "" {
		if _, err := r.adapter.PostMessage(ctx, thread.ChannelID, thread.ThreadTS,
			fmt.Sprintf("✅ List run complete: *%s* (%d cards)", s.ListName, len(s.CardIDs))); err != nil {
			r.logger.Warn("Failed to post completion notice", "error", err)
		}
	}
	r.logger.Info("List run completed", "session_id", s.SessionID, "list", s.ListName)
	return nil
}

// PauseRun parks a run. Terminal runs cannot be paused.
func (r *ListRunner) PauseRun(sessionID, reason string) error {
	s := r.getSession(sessionID)
	if s == nil {
		return fmt.Errorf("unknown list run %s", sessionID)
	}
	if !s.Active() {
		return fmt.Errorf("list run %s is %s, cannot pause", sessionID, s.Status)
	}
	s.Status = store.ListRunPaused
	s.ErrorMessage = reason
	return r.saveSession(s)
}

// ResumeRun continues a paused run past its failed card.
func (r *ListRunner) ResumeRun(ctx context.Context, sessionID string) error {
	s := r.getSession(sessionID)
	if s == nil {
		return fmt.Errorf("unknown list run %s", sessionID)
	}
	if s.Status != store.ListRunPaused {
		return fmt.Errorf("list run %s is %s, cannot resume", sessionID, s.Status)
	}
	s.Status = store.ListRunRunning
	s.ErrorMessage = ""
	if err := r.saveSession(s); err != nil {
		return err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runChain(context.WithoutCancel(ctx), sessionID)
	}()
	return nil
}

// GetPausedSessions returns all paused runs.
func (r *ListRunner) GetPausedSessions() []*store.ListRunSession {
	return r.filterSessions(func(s *store.ListRunSession) bool { return s.Status == store.ListRunPaused })
}

// GetActiveSessions returns all runs still owning their list.
func (r *ListRunner) GetActiveSessions() []*store.ListRunSession {
	return r.filterSessions(func(s *store.ListRunSession) bool { return s.Active() })
}

// FindSessionByListName returns the newest run for the named list, or nil.
func (r *ListRunner) FindSessionByListName(name string) *store.ListRunSession {
	var newest *store.ListRunSession
	for _, s := range r.store.LoadListRunSessions() {
		if !strings.EqualFold(s.ListName, name) {
			continue
		}
		if newest == nil || s.CreatedAt.After(newest.CreatedAt) {
			newest = s
		}
	}
	return newest
}

// Wait blocks until all chains have finished. Test hook and shutdown aid.
func (r *ListRunner) Wait() { r.wg.Wait() }

func (r *ListRunner) filterSessions(keep func(*store.ListRunSession) bool) []*store.ListRunSession {
	var out []*store.ListRunSession
	for _, s := range r.store.LoadListRunSessions() {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// nextCardID returns the first unprocessed card at or after CurrentIndex.
func (r *ListRunner) nextCardID(s *store.ListRunSession) (string, int) {
	for i := s.CurrentIndex; i < len(s.CardIDs); i++ {
		id := s.CardIDs[i]
		if _, done := s.ProcessedCards[id]; !done {
			return id, i
		}
	}
	return "", len(s.CardIDs)
}

func (r *ListRunner) getSession(sessionID string) *store.ListRunSession {
	return r.store.LoadListRunSessions()[sessionID]
}

func (r *ListRunner) saveSession(s *store.ListRunSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.store.LoadListRunSessions()
	all[s.SessionID] = s
	return r.store.SaveListRunSessions(all)
}

func (r *ListRunner) thread(sessionID string) runThread {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threads[sessionID]
}

func (r *ListRunner) trackCard(card *Card, thread runThread) {
	cards := r.store.LoadTrackedCards()
	cards[card.ID] = store.TrackedCard{
		CardID:     card.ID,
		CardName:   card.Name,
		CardURL:    card.URL,
		ListID:     card.ListID,
		ListKey:    listRunKey,
		ThreadTS:   thread.ThreadTS,
		ChannelID:  thread.ChannelID,
		DetectedAt: time.Now(),
	}
	if err := r.store.SaveTrackedCards(cards); err != nil {
		r.logger.Warn("Failed to track card", "card_id", card.ID, "error", err)
	}
}

func (r *ListRunner) untrackCard(cardID string) {
	cards := r.store.LoadTrackedCards()
	delete(cards, cardID)
	if err := r.store.SaveTrackedCards(cards); err != nil {
		r.logger.Warn("Failed to untrack card", "card_id", cardID, "error", err)
	}
}
