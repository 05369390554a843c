package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrew/relay/pkg/store"
)

// fakeCompleter replies with canned responses keyed by a marker found in
// the system prompt.
type fakeCompleter struct {
	observer  string
	reflector string
	promoter  string
	compactor string
	err       error
	calls     []string
}

func (f *fakeCompleter) Complete(_ context.Context, system, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	switch {
	case strings.Contains(system, "extract durable facts"):
		f.calls = append(f.calls, "observer")
		return f.observer, nil
	case strings.Contains(system, "compress a list of session observations"):
		f.calls = append(f.calls, "reflector")
		return f.reflector, nil
	case strings.Contains(system, "deserve a place"):
		f.calls = append(f.calls, "promoter")
		return f.promoter, nil
	case strings.Contains(system, "grown past its"):
		f.calls = append(f.calls, "compactor")
		return f.compactor, nil
	}
	return "{}", nil
}

type charCounter struct{}

func (charCounter) Count(text string) int { return len(text) }

func newTestPipeline(t *testing.T, completer *fakeCompleter, cfg Config) (*Pipeline, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	return NewPipeline(st, completer, charCounter{}, cfg), st
}

func TestFilterConversation(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "fix the bug"},
		{Role: "assistant", Content: "[tool_use: Bash] {\"command\":\"ls\"}"},
		{Role: "assistant", Content: "[tool_result] file listing"},
		{Role: "assistant", Content: "done, the bug was a typo"},
	}
	filtered := FilterConversation(msgs)
	require.Len(t, filtered, 2)
	assert.Equal(t, "fix the bug", filtered[0].Content)
	assert.Equal(t, "done, the bug was a typo", filtered[1].Content)
}

func TestPipeline_ObserverMergesAndAppendsCandidates(t *testing.T) {
	fc := &fakeCompleter{
		observer: `{"observations":[{"priority":"🔴","content":"user runs Go 1.25"}],
		            "candidates":[{"priority":"🟡","content":"prefers table tests"}]}`,
	}
	p, st := newTestPipeline(t, fc, Config{})

	ok := p.ProcessTurn(context.Background(), "1.0", "U1", []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	})
	assert.True(t, ok)

	rec := st.GetRecord("1.0")
	require.Len(t, rec.Observations, 1)
	assert.Equal(t, "user runs Go 1.25", rec.Observations[0].Content)
	assert.Equal(t, store.SourceObserver, rec.Observations[0].Source)
	assert.Equal(t, 1, rec.TotalSessionsObserved)

	all := st.LoadAllCandidates()
	require.Len(t, all["1.0"], 1)
	assert.Equal(t, "prefers table tests", all["1.0"][0].Content)
}

func TestPipeline_ObserverFailureReturnsFalse(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("llm down")}
	p, st := newTestPipeline(t, fc, Config{})

	ok := p.ProcessTurn(context.Background(), "1.0", "U1", []Message{{Role: "user", Content: "x"}})
	assert.False(t, ok)
	assert.Empty(t, st.GetRecord("1.0").Observations)
}

func TestPipeline_TurnBelowThresholdIsNoOp(t *testing.T) {
	fc := &fakeCompleter{}
	p, _ := newTestPipeline(t, fc, Config{MinTurnTokens: 10_000})

	ok := p.ProcessTurn(context.Background(), "1.0", "U1", []Message{{Role: "user", Content: "short"}})
	assert.True(t, ok)
	assert.Empty(t, fc.calls, "observer must not run under the threshold")
}

func TestPipeline_PromoterClearsAllCandidates(t *testing.T) {
	fc := &fakeCompleter{
		observer: `{"observations":[],"candidates":[{"priority":"🟡","content":"c3"}]}`,
		promoter: `{"promoted":[{"priority":"🔴","content":"keep this"}],
		            "rejected":[{"priority":"🟢","content":"drop this"}]}`,
	}
	p, st := newTestPipeline(t, fc, Config{PromotionThreshold: 2})

	require.NoError(t, st.AppendCandidates("other", []store.Candidate{
		{TS: "1", Priority: store.PriorityMedium, Content: "c1"},
		{TS: "2", Priority: store.PriorityMedium, Content: "c2"},
	}))

	ok := p.ProcessTurn(context.Background(), "1.0", "U1", []Message{{Role: "user", Content: "x"}})
	assert.True(t, ok)

	content, meta := st.GetPersistent()
	require.Len(t, content, 1)
	assert.Equal(t, "keep this", content[0].Content)
	assert.Equal(t, len("keep this"), meta.TokenCount)

	assert.Empty(t, st.LoadAllCandidates(), "all candidates cleared, rejected not re-queued")
}

func TestPipeline_CompactorArchivesAndShrinks(t *testing.T) {
	fc := &fakeCompleter{
		observer:  `{"observations":[],"candidates":[]}`,
		compactor: `{"content":[{"priority":"🔴","content":"merged"}]}`,
	}
	p, st := newTestPipeline(t, fc, Config{CompactionThreshold: 10, CompactionTarget: 5})

	big := []store.PersistentItem{
		{ID: "1", Priority: store.PriorityHigh, Content: "a very long memory entry", PromotedAt: time.Now()},
	}
	require.NoError(t, st.SavePersistent(big, store.PersistentMeta{TokenCount: 100}))

	ok := p.ProcessTurn(context.Background(), "1.0", "U1", []Message{{Role: "user", Content: "x"}})
	assert.True(t, ok)

	content, meta := st.GetPersistent()
	require.Len(t, content, 1)
	assert.Equal(t, "merged", content[0].Content)
	assert.LessOrEqual(t, meta.TokenCount, 10)
}

func TestPipeline_OptionalStageFailureDoesNotAbort(t *testing.T) {
	fc := &fakeCompleter{
		observer: `{"observations":[{"priority":"🟡","content":"obs"}],"candidates":[]}`,
		promoter: `not json at all`,
	}
	p, st := newTestPipeline(t, fc, Config{PromotionThreshold: 0})

	require.NoError(t, st.AppendCandidates("t", []store.Candidate{{TS: "1", Content: "c"}}))

	ok := p.ProcessTurn(context.Background(), "1.0", "U1", []Message{{Role: "user", Content: "x"}})
	assert.True(t, ok, "observer result stands even when promoter fails")
	assert.Len(t, st.GetRecord("1.0").Observations, 1)
}

func TestPipeline_ReflectorCompresses(t *testing.T) {
	fc := &fakeCompleter{
		observer:  `{"observations":[{"priority":"🟢","content":"tail observation"}],"candidates":[]}`,
		reflector: `{"observations":[{"priority":"🔴","content":"summary"}]}`,
	}
	p, st := newTestPipeline(t, fc, Config{ReflectionThreshold: 5, ReflectionTarget: 3})

	ok := p.ProcessTurn(context.Background(), "1.0", "U1", []Message{{Role: "user", Content: "x"}})
	assert.True(t, ok)

	rec := st.GetRecord("1.0")
	require.Len(t, rec.Observations, 1)
	assert.Equal(t, "summary", rec.Observations[0].Content)
	assert.Equal(t, 1, rec.ReflectionCount)
}
