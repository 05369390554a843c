// Package agentrunner wraps one agent CLI subprocess per chat thread. It
// streams the subprocess's typed messages, supports interrupt and compact,
// and exposes a registry used for shutdown.
//
// The runner returns raw text only: marker interpretation (UPDATE, RESTART,
// LIST_RUN, SUMMARY/DETAILS envelopes) belongs to the session executor.
package agentrunner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// RunRequest describes one agent invocation.
type RunRequest struct {
	ThreadTS  string
	Channel   string
	Prompt    string
	SessionID string // resume this agent session when non-empty
	UserID    string
	Policy    ToolPolicy

	// OnProgress receives the tail of the running text, throttled.
	OnProgress func(ctx context.Context, text string)
	// OnCompact is invoked when the subprocess reports a pre-compact event.
	OnCompact func(trigger, note string)
	// OnRateLimitWarning receives human-readable non-fatal limit notes.
	OnRateLimitWarning func(note string)
}

// Result is the terminal outcome of one agent invocation.
type Result struct {
	Success           bool
	Output            string
	SessionID         string
	Error             string
	Interrupted       bool
	Usage             *Usage
	CollectedMessages []string
	AnchorTS          string
}

// stdinUserMessage is the JSON format for sending the prompt on stdin.
type stdinUserMessage struct {
	Type    string            `json:"type"`
	Message stdinMessageInner `json:"message"`
}

type stdinMessageInner struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// runner drives one subprocess for one invocation.
type runner struct {
	threadTS string
	opts     Options

	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdoutPipe io.ReadCloser
	pid        int
	stderrFile *os.File

	interrupted atomic.Bool
	logger      *slog.Logger
}

func newRunner(threadTS string, opts Options) *runner {
	return &runner{
		threadTS: threadTS,
		opts:     opts,
		logger:   slog.Default().With("component", "agent-runner", "thread_ts", threadTS),
	}
}

// start launches the subprocess and sends the prompt.
func (r *runner) start(ctx context.Context, req RunRequest) error {
	args := []string{
		"--print",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}
	if len(req.Policy.Allowed) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.Policy.Allowed, ","))
	}
	if len(req.Policy.Disallowed) > 0 {
		args = append(args, "--disallowedTools", strings.Join(req.Policy.Disallowed, ","))
	}
	if r.opts.PermissionMode != "" {
		args = append(args, "--permission-mode", r.opts.PermissionMode)
	}
	if r.opts.MCPConfigPath != "" {
		args = append(args, "--mcp-config", r.opts.MCPConfigPath)
	}

	cmd := exec.Command(r.opts.Binary, args...)
	cmd.Dir = r.opts.WorkDir
	cmd.Env = append(os.Environ(), r.opts.Env...)

	if err := os.MkdirAll(r.opts.LogsDir, 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}
	stderrPath := filepath.Join(r.opts.LogsDir, fmt.Sprintf("cli_stderr_%s.log", sanitizeTS(r.threadTS)))
	stderrFile, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening stderr log: %w", err)
	}
	cmd.Stderr = stderrFile

	stdin, err := cmd.StdinPipe()
	if err != nil {
		stderrFile.Close()
		return fmt.Errorf("opening stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stderrFile.Close()
		return fmt.Errorf("opening stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stderrFile.Close()
		return fmt.Errorf("starting agent subprocess: %w", err)
	}

	r.cmd = cmd
	r.stdin = stdin
	r.pid = cmd.Process.Pid
	r.stderrFile = stderrFile
	r.stdoutPipe = stdout
	r.logger.Info("Agent subprocess started", "pid", r.pid, "resume", req.SessionID != "")

	// Single-turn protocol: send the prompt, close stdin, consume events.
	msg := stdinUserMessage{
		Type: "user",
		Message: stdinMessageInner{
			Role:    "user",
			Content: []ContentBlock{{Type: blockTypeText, Text: req.Prompt}},
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding prompt: %w", err)
	}
	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing prompt: %w", err)
	}
	if err := stdin.Close(); err != nil {
		r.logger.Warn("Closing agent stdin failed", "error", err)
	}
	return nil
}

// consumeState accumulates receive-loop state across compact retries.
type consumeState struct {
	result        *Result
	textParts     []string
	lastAssistant string
	lastProgress  time.Time
	compactEvents []string
	gotResult     bool
	aborted       bool
}

// run executes the full invocation protocol and always returns a Result.
func (r *runner) run(ctx context.Context, req RunRequest) *Result {
	state := &consumeState{
		result: &Result{SessionID: req.SessionID},
	}

	defer r.teardown()

	if err := r.start(ctx, req); err != nil {
		state.result.Error = err.Error()
		return state.result
	}

	lines := make(chan []byte, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.stdoutPipe)
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := make([]byte, len(scanner.Bytes()))
			copy(line, scanner.Bytes())
			lines <- line
		}
	}()

	r.consume(ctx, req, state, lines, 0)

	// Pre-compact retries: the subprocess may keep streaming after a
	// compact boundary. Retry only while no usable result was observed
	// and the subprocess is still alive.
	retries := 0
	for !state.gotResult && !state.aborted &&
		len(state.compactEvents) > 0 && retries < r.opts.MaxCompactRetries && r.alive() {
		retries++
		r.logger.Info("Re-entering receive loop after compact event", "attempt", retries)
		r.consume(ctx, req, state, lines, r.opts.CompactRetryReadTimeout)
	}

	r.finalize(state)
	return state.result
}

// consume drains stream events until a terminal result, channel close,
// abort, or (when timeout > 0) read inactivity.
func (r *runner) consume(ctx context.Context, req RunRequest, state *consumeState, lines <-chan []byte, timeout time.Duration) {
	for {
		var line []byte
		var ok bool
		if timeout > 0 {
			timer := time.NewTimer(timeout)
			select {
			case line, ok = <-lines:
				timer.Stop()
			case <-timer.C:
				r.logger.Warn("Compact retry read timed out")
				return
			case <-ctx.Done():
				timer.Stop()
				return
			}
		} else {
			select {
			case line, ok = <-lines:
			case <-ctx.Done():
				return
			}
		}
		if !ok {
			return
		}

		ev, err := parseStreamEvent(line)
		if err != nil {
			r.logger.Warn("Skipping malformed stream event", "error", err)
			continue
		}
		if r.handleEvent(ctx, req, state, ev) {
			return
		}
	}
}

// handleEvent applies one stream event. Returns true when the loop is done.
func (r *runner) handleEvent(ctx context.Context, req RunRequest, state *consumeState, ev *StreamEvent) bool {
	switch ev.Type {
	case eventTypeSystem:
		if ev.SessionID != "" {
			state.result.SessionID = ev.SessionID
		}
		if ev.Subtype == subtypeCompactBoundary {
			state.compactEvents = append(state.compactEvents, ev.Status)
			if req.OnCompact != nil {
				req.OnCompact(ev.Subtype, ev.Status)
			}
		}

	case eventTypeAssistant:
		r.handleAssistant(ctx, req, state, ev)

	case eventTypeResult:
		state.gotResult = true
		state.result.Usage = ev.Usage
		if ev.SessionID != "" {
			state.result.SessionID = ev.SessionID
		}
		if ev.IsError {
			state.result.Error = ev.Result
			if state.result.Error == "" {
				state.result.Error = "agent reported an error"
			}
		} else {
			state.result.Success = true
			state.result.Output = ev.Result
			if state.result.Output == "" {
				state.result.Output = strings.Join(state.textParts, "")
			}
		}
		return true

	case eventTypeRateLimit:
		switch classifyRateLimit(ev.Status) {
		case rateLimitIgnore:
		case rateLimitWarn:
			note := fmt.Sprintf("usage limit warning (status=%s)", ev.Status)
			r.logger.Warn("Rate limit warning from agent", "status", ev.Status)
			if req.OnRateLimitWarning != nil {
				req.OnRateLimitWarning(note)
			}
		case rateLimitAbort:
			state.result.Error = "usage limit reached"
			state.aborted = true
			return true
		}
	}
	return false
}

func (r *runner) handleAssistant(ctx context.Context, req RunRequest, state *consumeState, ev *StreamEvent) {
	for _, block := range parseAssistantBlocks(ev.Message) {
		switch block.Type {
		case blockTypeText:
			state.textParts = append(state.textParts, block.Text)
			state.lastAssistant = strings.Join(state.textParts, "")
			state.result.CollectedMessages = append(state.result.CollectedMessages, block.Text)
			if req.OnProgress != nil && time.Since(state.lastProgress) >= r.opts.ProgressInterval {
				state.lastProgress = time.Now()
				req.OnProgress(ctx, tail(state.lastAssistant, progressTailLimit))
			}
		case blockTypeToolUse:
			state.result.CollectedMessages = append(state.result.CollectedMessages,
				fmt.Sprintf("[tool_use: %s] %s", block.Name, string(block.Input)))
		case blockTypeToolResult:
			state.result.CollectedMessages = append(state.result.CollectedMessages,
				fmt.Sprintf("[tool_result] %s", tail(block.Content, toolResultTruncateLimit)))
		}
	}
}

// finalize fills in the terminal fields after the receive phase.
func (r *runner) finalize(state *consumeState) {
	res := state.result
	res.Interrupted = r.interrupted.Load()

	if !state.gotResult && !state.aborted && res.Error == "" {
		// Subprocess ended without a terminal result. Fall back to the
		// last assistant text if one was collected.
		if state.lastAssistant != "" {
			res.Success = true
			res.Output = state.lastAssistant
			r.logger.Warn("No terminal result; using last assistant text")
		} else if res.Interrupted {
			res.Error = "interrupted"
		} else {
			res.Error = "agent subprocess ended without a result"
		}
	}
	if res.Interrupted {
		res.Success = false
	}
}

// interrupt asks the subprocess to abandon its current response.
// Best-effort: the subprocess is expected to emit a terminal error result
// or stop producing messages.
func (r *runner) interrupt() {
	r.interrupted.Store(true)
	if r.cmd != nil && r.cmd.Process != nil {
		if err := r.cmd.Process.Signal(os.Interrupt); err != nil {
			r.logger.Warn("Interrupt signal failed", "error", err)
		}
	}
}

// alive reports whether the subprocess still exists.
func (r *runner) alive() bool {
	if r.pid == 0 {
		return false
	}
	exists, err := process.PidExists(int32(r.pid))
	return err == nil && exists
}

// teardown joins the subprocess. If the graceful wait fails and the pid is
// known, the process is terminated then killed (3s and 2s timeouts).
func (r *runner) teardown() {
	if r.stderrFile != nil {
		defer r.stderrFile.Close()
	}
	if r.cmd == nil {
		return
	}

	done := make(chan error, 1)
	go func() { done <- r.cmd.Wait() }()

	select {
	case <-done:
		return
	case <-time.After(3 * time.Second):
	}

	r.logger.Warn("Agent subprocess did not exit, terminating", "pid", r.pid)
	_ = r.cmd.Process.Signal(os.Interrupt)
	select {
	case <-done:
		return
	case <-time.After(3 * time.Second):
	}

	r.logger.Warn("Agent subprocess ignored terminate, killing", "pid", r.pid)
	_ = r.cmd.Process.Kill()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		r.logger.Error("Agent subprocess could not be reaped", "pid", r.pid)
	}
}

func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[len(s)-limit:]
}

func sanitizeTS(ts string) string {
	return strings.ReplaceAll(ts, "/", "_")
}
