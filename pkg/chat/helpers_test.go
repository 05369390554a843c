package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMessage(t *testing.T) {
	t.Run("short text is one chunk", func(t *testing.T) {
		chunks := SplitMessage("hello", 3900)
		require.Len(t, chunks, 1)
		assert.Equal(t, "hello", chunks[0])
	})

	t.Run("breaks at newline boundaries", func(t *testing.T) {
		text := strings.Repeat("0123456789\n", 20)
		chunks := SplitMessage(text, 50)
		require.Greater(t, len(chunks), 1)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 50)
			assert.True(t, strings.HasSuffix(c, "9"), "chunk must end on a full line: %q", c)
		}
		assert.Equal(t, strings.Count(text, "0123456789"), strings.Count(strings.Join(chunks, "\n"), "0123456789"))
	})

	t.Run("hard split without newlines", func(t *testing.T) {
		text := strings.Repeat("x", 120)
		chunks := SplitMessage(text, 50)
		require.Len(t, chunks, 3)
		assert.Equal(t, 120, len(strings.Join(chunks, "")))
	})
}

func TestSendLongMessage(t *testing.T) {
	fa := newFakeAdapter()
	text := strings.Repeat("a line of text\n", 400) // ~6000 chars

	firstTS, err := SendLongMessage(context.Background(), fa, "C1", "", text)
	require.NoError(t, err)
	require.NotEmpty(t, firstTS)
	require.Greater(t, len(fa.posted), 1)

	assert.Equal(t, firstTS, fa.posted[0].TS)
	assert.Empty(t, fa.posted[0].ThreadTS)
	for _, p := range fa.posted[1:] {
		assert.Equal(t, firstTS, p.ThreadTS, "later chunks thread under the first")
		assert.LessOrEqual(t, len(p.Text), MaxMessageLen)
	}
}

func TestSendLongMessage_KeepsCallerThread(t *testing.T) {
	fa := newFakeAdapter()
	_, err := SendLongMessage(context.Background(), fa, "C1", "9.9", strings.Repeat("z\n", 4000))
	require.NoError(t, err)
	for _, p := range fa.posted {
		assert.Equal(t, "9.9", p.ThreadTS)
	}
}
