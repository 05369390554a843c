package agentrunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamEvent(t *testing.T) {
	t.Run("system init carries session id", func(t *testing.T) {
		ev, err := parseStreamEvent([]byte(`{"type":"system","subtype":"init","session_id":"abc-123"}`))
		require.NoError(t, err)
		assert.Equal(t, "system", ev.Type)
		assert.Equal(t, "abc-123", ev.SessionID)
	})

	t.Run("result with usage", func(t *testing.T) {
		ev, err := parseStreamEvent([]byte(`{"type":"result","result":"done","is_error":false,"usage":{"input_tokens":100,"output_tokens":20}}`))
		require.NoError(t, err)
		assert.Equal(t, "done", ev.Result)
		require.NotNil(t, ev.Usage)
		assert.Equal(t, 100, ev.Usage.InputTokens)
	})

	t.Run("malformed line is an error", func(t *testing.T) {
		_, err := parseStreamEvent([]byte(`{nope`))
		assert.Error(t, err)
	})
}

func TestParseAssistantBlocks(t *testing.T) {
	raw := []byte(`{"content":[{"type":"text","text":"hi"},{"type":"tool_use","name":"Bash","input":{"command":"ls"}}]}`)
	blocks := parseAssistantBlocks(raw)
	require.Len(t, blocks, 2)
	assert.Equal(t, "hi", blocks[0].Text)
	assert.Equal(t, "Bash", blocks[1].Name)
}

func TestClassifyRateLimit(t *testing.T) {
	assert.Equal(t, rateLimitIgnore, classifyRateLimit("allowed"))
	assert.Equal(t, rateLimitWarn, classifyRateLimit("allowed_warning"))
	assert.Equal(t, rateLimitAbort, classifyRateLimit("limited"))
	assert.Equal(t, rateLimitAbort, classifyRateLimit(""))
}

func TestHandleEvent_ResultTerminatesLoop(t *testing.T) {
	r := newRunner("1.0", Options{}.withDefaults())
	state := &consumeState{result: &Result{}}

	done := r.handleEvent(context.Background(), RunRequest{}, state,
		&StreamEvent{Type: eventTypeResult, Result: "final answer", SessionID: "s-1"})
	assert.True(t, done)
	assert.True(t, state.result.Success)
	assert.Equal(t, "final answer", state.result.Output)
	assert.Equal(t, "s-1", state.result.SessionID)
}

func TestHandleEvent_ErrorResult(t *testing.T) {
	r := newRunner("1.0", Options{}.withDefaults())
	state := &consumeState{result: &Result{}}

	done := r.handleEvent(context.Background(), RunRequest{}, state,
		&StreamEvent{Type: eventTypeResult, IsError: true, Result: "boom"})
	assert.True(t, done)
	assert.False(t, state.result.Success)
	assert.Equal(t, "boom", state.result.Error)
}

func TestHandleEvent_RateLimitGracefulDegradation(t *testing.T) {
	r := newRunner("1.0", Options{}.withDefaults())

	t.Run("allowed_warning forwards a note and continues", func(t *testing.T) {
		state := &consumeState{result: &Result{}}
		var note string
		req := RunRequest{OnRateLimitWarning: func(n string) { note = n }}

		done := r.handleEvent(context.Background(), req, state,
			&StreamEvent{Type: eventTypeRateLimit, Status: "allowed_warning"})
		assert.False(t, done, "receive loop continues")
		assert.Contains(t, note, "usage limit")
		assert.Empty(t, state.result.Error)
	})

	t.Run("limited breaks the loop with usage limit error", func(t *testing.T) {
		state := &consumeState{result: &Result{}}
		done := r.handleEvent(context.Background(), RunRequest{}, state,
			&StreamEvent{Type: eventTypeRateLimit, Status: "limited"})
		assert.True(t, done)
		assert.True(t, state.aborted)
		assert.Equal(t, "usage limit reached", state.result.Error)
	})
}

func TestHandleEvent_AssistantProgressThrottle(t *testing.T) {
	opts := Options{ProgressInterval: time.Hour}.withDefaults()
	r := newRunner("1.0", opts)
	state := &consumeState{result: &Result{}}

	calls := 0
	req := RunRequest{OnProgress: func(_ context.Context, _ string) { calls++ }}

	ev := &StreamEvent{Type: eventTypeAssistant,
		Message: []byte(`{"content":[{"type":"text","text":"part one "}]}`)}
	r.handleEvent(context.Background(), req, state, ev)
	assert.Equal(t, 1, calls, "first progress fires immediately")

	ev2 := &StreamEvent{Type: eventTypeAssistant,
		Message: []byte(`{"content":[{"type":"text","text":"part two"}]}`)}
	r.handleEvent(context.Background(), req, state, ev2)
	assert.Equal(t, 1, calls, "second progress throttled")

	assert.Equal(t, []string{"part one ", "part two"}, state.result.CollectedMessages)
}

func TestHandleEvent_ToolBlocksCollected(t *testing.T) {
	r := newRunner("1.0", Options{}.withDefaults())
	state := &consumeState{result: &Result{}}

	ev := &StreamEvent{Type: eventTypeAssistant,
		Message: []byte(`{"content":[{"type":"tool_use","name":"Read","input":{"file":"x"}},{"type":"tool_result","content":"contents"}]}`)}
	r.handleEvent(context.Background(), RunRequest{}, state, ev)

	require.Len(t, state.result.CollectedMessages, 2)
	assert.Contains(t, state.result.CollectedMessages[0], "[tool_use: Read]")
	assert.Contains(t, state.result.CollectedMessages[1], "[tool_result]")
}

func TestHandleEvent_CompactBoundaryRecorded(t *testing.T) {
	r := newRunner("1.0", Options{}.withDefaults())
	state := &consumeState{result: &Result{}}

	var trigger string
	req := RunRequest{OnCompact: func(tr, _ string) { trigger = tr }}
	done := r.handleEvent(context.Background(), req, state,
		&StreamEvent{Type: eventTypeSystem, Subtype: subtypeCompactBoundary, Status: "auto"})
	assert.False(t, done)
	assert.Len(t, state.compactEvents, 1)
	assert.Equal(t, subtypeCompactBoundary, trigger)
}

func TestFinalize_FallbackToLastAssistantText(t *testing.T) {
	r := newRunner("1.0", Options{}.withDefaults())
	state := &consumeState{result: &Result{}, lastAssistant: "partial answer"}

	r.finalize(state)
	assert.True(t, state.result.Success)
	assert.Equal(t, "partial answer", state.result.Output)
}

func TestFinalize_NoResultNoText(t *testing.T) {
	r := newRunner("1.0", Options{}.withDefaults())
	state := &consumeState{result: &Result{}}

	r.finalize(state)
	assert.False(t, state.result.Success)
	assert.NotEmpty(t, state.result.Error)
}

func TestTail(t *testing.T) {
	assert.Equal(t, "abc", tail("abc", 10))
	assert.Equal(t, "cde", tail("abcde", 3))
}

func TestRegistry_SingleRunnerPerThread(t *testing.T) {
	g := NewRegistry(Options{Binary: "claude"})

	g.mu.Lock()
	g.instances["1.0"] = newRunner("1.0", g.opts)
	g.mu.Unlock()

	res := g.Run(context.Background(), RunRequest{ThreadTS: "1.0", Prompt: "hi"})
	assert.Contains(t, res.Error, "already active")
	assert.Equal(t, 1, g.ActiveCount())

	g.Interrupt("2.0") // no-op for unknown thread
	assert.True(t, g.Active("1.0"))
}
