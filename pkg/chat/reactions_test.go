package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReactionManager_Swap(t *testing.T) {
	fa := newFakeAdapter()
	rm := NewReactionManager(fa, "BOT")

	rm.Add(context.Background(), "C1", "1.0", ReactionPreempt)
	rm.Swap(context.Background(), "C1", "1.0", ReactionPreempt, ReactionAccepted)

	got, err := fa.GetReactions(context.Background(), "C1", "1.0")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ReactionAccepted, got[0].Name)
}

func TestReactionManager_AddUnlessPresent(t *testing.T) {
	fa := newFakeAdapter()
	rm := NewReactionManager(fa, "BOT")

	assert.True(t, rm.AddUnlessPresent(context.Background(), "C1", "1.0", "eyes"))
	assert.True(t, rm.AddUnlessPresent(context.Background(), "C1", "1.0", "eyes"))

	got, _ := fa.GetReactions(context.Background(), "C1", "1.0")
	require.Len(t, got, 1)
	assert.Len(t, got[0].Users, 1, "duplicate add skipped when the bot already reacted")
}

func TestReactionManager_SetTrackerState(t *testing.T) {
	fa := newFakeAdapter()
	rm := NewReactionManager(fa, "BOT")

	rm.SetTrackerState(context.Background(), "C1", "1.0", ReactionPlanning)
	rm.SetTrackerState(context.Background(), "C1", "1.0", ReactionExecuting)

	got, _ := fa.GetReactions(context.Background(), "C1", "1.0")
	require.Len(t, got, 1)
	assert.Equal(t, ReactionExecuting, got[0].Name)
}

func TestDebugSink_NilSafe(t *testing.T) {
	var sink *DebugSink
	sink.Post(context.Background(), "never sent") // must not panic

	assert.Nil(t, NewDebugSink(nil, "C9"))
	assert.Nil(t, NewDebugSink(newFakeAdapter(), ""))
}

func TestDebugSink_Posts(t *testing.T) {
	fa := newFakeAdapter()
	sink := NewDebugSink(fa, "C-debug")
	sink.Post(context.Background(), "probability block")
	require.Len(t, fa.postedTexts(), 1)
	assert.Equal(t, "probability block", fa.postedTexts()[0])
}
