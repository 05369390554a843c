package memory

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycrew/relay/pkg/store"
)

func newTestBuilder(t *testing.T) (*ContextBuilder, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	return NewContextBuilder(st, charCounter{}), st
}

func TestContextBuilder_EmptyStoreYieldsEmptyPrompt(t *testing.T) {
	b, _ := newTestBuilder(t)
	inj := b.Build(ContextParams{
		ThreadTS:          "1.0",
		ChannelID:         "C1",
		IncludePersistent: true,
		IncludeSession:    true,
	})
	assert.Empty(t, inj.Prompt)
	assert.Zero(t, inj.PersistentTokens)
	assert.Zero(t, inj.SessionTokens)
}

func TestContextBuilder_SectionOrder(t *testing.T) {
	b, st := newTestBuilder(t)

	require.NoError(t, st.SavePersistent([]store.PersistentItem{
		{ID: "1", Priority: store.PriorityHigh, Content: "lives in Berlin", PromotedAt: time.Now()},
	}, store.PersistentMeta{TokenCount: 10}))

	rec := st.GetRecord("1.0")
	rec.Observations = append(rec.Observations, store.Observation{
		ID: "o1", Priority: store.PriorityMedium, Content: "debugging a flaky test",
		SessionDate: "2026-08-24", Source: store.SourceObserver,
	})
	require.NoError(t, st.SaveRecord(rec))

	require.NoError(t, st.SaveDigest("C1", store.Digest{Content: "team is shipping v2"}))
	require.NoError(t, st.AppendPending("C1", store.ChannelMessage{
		TS: "2.0", UserID: "U2", Username: "dana", Text: "deploy is green",
	}))

	inj := b.Build(ContextParams{
		ThreadTS:                  "1.0",
		ChannelID:                 "C1",
		IncludePersistent:         true,
		IncludeSession:            true,
		IncludeChannelObservation: true,
		NewObservation:            "user just asked about retries",
	})

	require.NotEmpty(t, inj.Prompt)
	ltm := strings.Index(inj.Prompt, "<long-term-memory>")
	om := strings.Index(inj.Prompt, "<observational-memory>")
	no := strings.Index(inj.Prompt, "<new-observation>")
	ch := strings.Index(inj.Prompt, "<channel-observation>")
	require.True(t, ltm >= 0 && om >= 0 && no >= 0 && ch >= 0)
	assert.Less(t, ltm, om)
	assert.Less(t, om, no)
	assert.Less(t, no, ch)

	assert.Contains(t, inj.Prompt, "lives in Berlin")
	assert.Contains(t, inj.Prompt, "dana: deploy is green")
	assert.Positive(t, inj.PersistentTokens)
	assert.Positive(t, inj.SessionTokens)
	assert.Positive(t, inj.NewObservationTokens)
	assert.Positive(t, inj.ChannelDigestTokens)
	assert.Positive(t, inj.ChannelBufferTokens)
}

func TestContextBuilder_BudgetDropsLaterSectionsWhole(t *testing.T) {
	b, st := newTestBuilder(t)

	require.NoError(t, st.SavePersistent([]store.PersistentItem{
		{ID: "1", Priority: store.PriorityHigh, Content: "short fact", PromotedAt: time.Now()},
	}, store.PersistentMeta{TokenCount: 10}))

	rec := st.GetRecord("1.0")
	rec.Observations = append(rec.Observations, store.Observation{
		ID: "o1", Priority: store.PriorityMedium,
		Content:     "an extremely verbose observation that will not fit in the remaining budget at all",
		SessionDate: "2026-08-24", Source: store.SourceObserver,
	})
	require.NoError(t, st.SaveRecord(rec))

	full := b.Build(ContextParams{ThreadTS: "1.0", IncludePersistent: true, IncludeSession: true})
	require.Positive(t, full.PersistentTokens)

	inj := b.Build(ContextParams{
		ThreadTS:          "1.0",
		IncludePersistent: true,
		IncludeSession:    true,
		MaxTokens:         full.PersistentTokens + 5,
	})
	assert.Contains(t, inj.Prompt, "short fact")
	assert.NotContains(t, inj.Prompt, "observational-memory",
		"over-budget section is dropped whole, never truncated")
	assert.Zero(t, inj.SessionTokens)
}
