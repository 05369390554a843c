package tracker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrew/relay/pkg/session"
	"github.com/relaycrew/relay/pkg/store"
)

func newTestRunner(t *testing.T) (*ListRunner, *fakeTracker, *fakeExec, *fakeChat, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	ft := newFakeTracker()
	fx := &fakeExec{validation: "Everything checks out.\nVALIDATION_RESULT: PASS"}
	fch := &fakeChat{}
	r := NewListRunner(st, ft, fx, session.NewManager(nil), fch, "C-notify")
	return r, ft, fx, fch, st
}

func seedDeployList(ft *fakeTracker) []Card {
	ft.addList("L1", "Deploy")
	a := Card{ID: "card-a", Name: "Card A", URL: "https://board/a"}
	b := Card{ID: "card-b", Name: "Card B", URL: "https://board/b"}
	ft.addCard("L1", a)
	ft.addCard("L1", b)
	return []Card{a, b}
}

func TestListRun_ChainsCardsToCompletion(t *testing.T) {
	r, ft, fx, fch, st := newTestRunner(t)
	cards := seedDeployList(ft)

	s, err := r.Start(context.Background(), "L1", "Deploy", cards, "C1")
	require.NoError(t, err)
	r.Wait()

	got := st.LoadListRunSessions()[s.SessionID]
	require.NotNil(t, got)
	assert.Equal(t, store.ListRunCompleted, got.Status)
	assert.Equal(t, 2, got.CurrentIndex)
	assert.Equal(t, store.CardCompleted, got.ProcessedCards["card-a"])
	assert.Equal(t, store.CardCompleted, got.ProcessedCards["card-b"])

	// Work pass and verification pass for each card.
	prompts := fx.runPrompts()
	require.Len(t, prompts, 4)
	assert.Contains(t, prompts[0], `List run "Deploy", card 1 of 2`)
	assert.Contains(t, prompts[1], "Verify whether")
	assert.Contains(t, prompts[2], `card 2 of 2`)

	// Spinner prefixes were applied and then removed.
	assert.Contains(t, ft.renames["card-a"], spinnerPrefix+"Card A")
	assert.Equal(t, "Card A", ft.currentName("card-a"))
	assert.Equal(t, "Card B", ft.currentName("card-b"))

	// Both cards untracked once done.
	assert.Empty(t, st.LoadTrackedCards())

	// Context was compacted between cards.
	assert.NotEmpty(t, fx.compacts)

	texts := fch.texts()
	require.NotEmpty(t, texts)
	assert.Contains(t, texts[0], "🏃 List run started")
	assert.Contains(t, texts[len(texts)-1], "✅ List run complete")
}

func TestListRun_FailedVerdictPausesWithoutAdvance(t *testing.T) {
	r, ft, fx, fch, st := newTestRunner(t)
	cards := seedDeployList(ft)
	fx.validation = "The tests still fail.\nVALIDATION_RESULT: FAIL"

	s, err := r.Start(context.Background(), "L1", "Deploy", cards, "C1")
	require.NoError(t, err)
	r.Wait()

	got := st.LoadListRunSessions()[s.SessionID]
	assert.Equal(t, store.ListRunPaused, got.Status)
	assert.Equal(t, store.CardFailed, got.ProcessedCards["card-a"])
	assert.Equal(t, 0, got.CurrentIndex)
	assert.NotContains(t, got.ProcessedCards, "card-b")
	assert.Contains(t, got.ErrorMessage, "Card A")
	assert.Empty(t, fx.compacts)

	var paused bool
	for _, text := range fch.texts() {
		if strings.Contains(text, "List run paused") {
			paused = true
		}
	}
	assert.True(t, paused, "expected a pause notice")
}

func TestListRun_ResumeContinuesPastFailedCard(t *testing.T) {
	r, ft, fx, _, st := newTestRunner(t)
	cards := seedDeployList(ft)
	fx.validation = "VALIDATION_RESULT: FAIL"

	s, err := r.Start(context.Background(), "L1", "Deploy", cards, "C1")
	require.NoError(t, err)
	r.Wait()
	require.Equal(t, store.ListRunPaused, st.LoadListRunSessions()[s.SessionID].Status)

	fx.mu.Lock()
	fx.validation = "VALIDATION_RESULT: PASS"
	fx.mu.Unlock()
	require.NoError(t, r.ResumeRun(context.Background(), s.SessionID))
	r.Wait()

	got := st.LoadListRunSessions()[s.SessionID]
	assert.Equal(t, store.ListRunCompleted, got.Status)
	assert.Equal(t, store.CardFailed, got.ProcessedCards["card-a"])
	assert.Equal(t, store.CardCompleted, got.ProcessedCards["card-b"])
	assert.Equal(t, 2, got.CurrentIndex)
	assert.Empty(t, got.ErrorMessage)
}

func TestListRun_ExecutionErrorPauses(t *testing.T) {
	r, ft, fx, _, st := newTestRunner(t)
	cards := seedDeployList(ft)
	fx.failExec = true

	s, err := r.Start(context.Background(), "L1", "Deploy", cards, "C1")
	require.NoError(t, err)
	r.Wait()

	got := st.LoadListRunSessions()[s.SessionID]
	assert.Equal(t, store.ListRunPaused, got.Status)
	assert.Equal(t, store.CardFailed, got.ProcessedCards["card-a"])
	// No verification pass when the work pass already failed.
	assert.Len(t, fx.runPrompts(), 1)
}

func TestListRun_MarkerInWorkOutputIsNotTrusted(t *testing.T) {
	r, ft, fx, _, st := newTestRunner(t)
	cards := seedDeployList(ft)
	fx.execOutput = "I could not finish.\nVALIDATION_RESULT: FAIL"
	fx.validation = "Checked the repo, the work is there.\nVALIDATION_RESULT: PASS"

	s, err := r.Start(context.Background(), "L1", "Deploy", cards, "C1")
	require.NoError(t, err)
	r.Wait()

	got := st.LoadListRunSessions()[s.SessionID]
	assert.Equal(t, store.ListRunCompleted, got.Status)
	assert.Equal(t, store.CardCompleted, got.ProcessedCards["card-a"])
}

func TestListRun_TrackedCardSkippedAsDuplicate(t *testing.T) {
	r, ft, _, _, st := newTestRunner(t)
	cards := seedDeployList(ft)
	require.NoError(t, st.SaveTrackedCards(map[string]store.TrackedCard{
		"card-b": {CardID: "card-b", CardName: "Card B", ListKey: "to_go"},
	}))

	s, err := r.Start(context.Background(), "L1", "Deploy", cards, "C1")
	require.NoError(t, err)
	r.Wait()

	got := st.LoadListRunSessions()[s.SessionID]
	assert.Equal(t, store.ListRunCompleted, got.Status)
	assert.Equal(t, store.CardCompleted, got.ProcessedCards["card-a"])
	assert.Equal(t, store.CardSkippedDuplicate, got.ProcessedCards["card-b"])
	// The foreign tracking entry is left alone.
	assert.Contains(t, st.LoadTrackedCards(), "card-b")
}

func TestListRun_OneActiveRunPerList(t *testing.T) {
	r, _, _, _, _ := newTestRunner(t)

	_, err := r.CreateSession("L1", "Deploy", []string{"card-a"})
	require.NoError(t, err)
	_, err = r.CreateSession("L1", "Deploy", []string{"card-b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already has an active run")

	// A different list is fine.
	_, err = r.CreateSession("L2", "Cleanup", []string{"card-c"})
	require.NoError(t, err)
}

func TestListRun_StartByName(t *testing.T) {
	r, ft, _, _, _ := newTestRunner(t)
	seedDeployList(ft)
	ft.addList("L2", "Empty")

	t.Run("unknown list", func(t *testing.T) {
		err := r.StartListRunByName(context.Background(), "Nope", "C1", "")
		require.Error(t, err)
	})

	t.Run("empty list", func(t *testing.T) {
		err := r.StartListRunByName(context.Background(), "Empty", "C1", "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no cards")
	})

	t.Run("case-insensitive match", func(t *testing.T) {
		require.NoError(t, r.StartListRunByName(context.Background(), "deploy", "C1", ""))
		r.Wait()
		s := r.FindSessionByListName("Deploy")
		require.NotNil(t, s)
		assert.Equal(t, store.ListRunCompleted, s.Status)
	})
}

func TestParseValidationResult(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"pass", "all done\nVALIDATION_RESULT: PASS", ValidationPass},
		{"fail", "nope\nVALIDATION_RESULT: FAIL", ValidationFail},
		{"lowercase marker", "looks good\nvalidation_result: pass", ValidationPass},
		{"last marker wins", "VALIDATION_RESULT: PASS\n...on reflection\nVALIDATION_RESULT: FAIL", ValidationFail},
		{"no marker", "I did the thing", ValidationUnknown},
		{"garbled verdict", "VALIDATION_RESULT: maybe", ValidationUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, parseValidationResult(tc.text))
		})
	}
}
